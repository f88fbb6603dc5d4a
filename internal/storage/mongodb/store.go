// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-as2/internal/storage"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	gridfs *gridfs.Bucket

	transfers *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	// Connect to MongoDB
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = "as2"
	}
	db := client.Database(dbName)

	// GridFS bucket for receipts
	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "receipts"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:    client,
		db:        db,
		gridfs:    bucket,
		transfers: db.Collection("transfers"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.transfers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "from", Value: 1}}},
		{Keys: bson.D{{Key: "to", Value: 1}}},
		{Keys: bson.D{{Key: "mic", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating transfer indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// TransferStore implementation

func (s *Store) Record(ctx context.Context, rec *storage.TransferRecord) error {
	if rec.MessageID == "" {
		return fmt.Errorf("record has no message ID")
	}
	now := time.Now()
	rec.ID = storage.RecordID(rec.Direction, rec.MessageID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.transfers.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, direction storage.Direction, messageID string, upd storage.StatusUpdate) error {
	now := time.Now()
	set := bson.M{"updated_at": now}
	if upd.Status != "" {
		set["status"] = upd.Status
		if upd.Status == storage.StatusConfirmed {
			set["confirmed_at"] = now
		}
	}
	if upd.Disposition != "" {
		set["disposition"] = upd.Disposition
	}
	if upd.ReceiptID != "" {
		set["receipt_id"] = upd.ReceiptID
	}
	if upd.ErrorKind != "" {
		set["error_kind"] = upd.ErrorKind
	}
	if upd.LastError != "" {
		set["last_error"] = upd.LastError
	}

	res, err := s.transfers.UpdateOne(ctx, bson.M{"_id": storage.RecordID(direction, messageID)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, direction, messageID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, direction storage.Direction, messageID string) (*storage.TransferRecord, error) {
	var rec storage.TransferRecord
	err := s.transfers.FindOne(ctx, bson.M{"_id": storage.RecordID(direction, messageID)}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, filter *storage.TransferFilter) ([]*storage.TransferRecord, error) {
	query := bson.M{}
	if filter != nil {
		if filter.Direction != "" {
			query["direction"] = filter.Direction
		}
		if filter.Status != "" {
			query["status"] = filter.Status
		}
		if filter.Party != "" {
			query["$or"] = []bson.M{
				{"from": filter.Party},
				{"to": filter.Party},
			}
		}
		if filter.Since != nil {
			query["created_at"] = bson.M{"$gte": *filter.Since}
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.transfers.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*storage.TransferRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ReceiptStore implementation using GridFS

func (s *Store) StoreReceipt(ctx context.Context, receipt *storage.Receipt) (string, error) {
	if receipt.Checksum == "" {
		hash := sha256.Sum256(receipt.Data)
		receipt.Checksum = hex.EncodeToString(hash[:])
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now()
	}

	filename := fmt.Sprintf("%s/%s", receipt.From, receipt.OriginalMessageID)
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"original_message_id": receipt.OriginalMessageID,
		"from":                receipt.From,
		"content_type":        receipt.ContentType,
		"checksum":            receipt.Checksum,
		"received_at":         receipt.ReceivedAt,
	})

	uploadStream, err := s.gridfs.OpenUploadStream(filename, uploadOpts)
	if err != nil {
		return "", fmt.Errorf("opening upload stream: %w", err)
	}
	defer uploadStream.Close()

	if _, err := uploadStream.Write(receipt.Data); err != nil {
		return "", fmt.Errorf("writing receipt: %w", err)
	}

	receipt.ID = uploadStream.FileID.(primitive.ObjectID).Hex()
	return receipt.ID, nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*storage.Receipt, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt ID: %w", err)
	}

	downloadStream, err := s.gridfs.OpenDownloadStream(objID)
	if err == gridfs.ErrFileNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening download stream: %w", err)
	}
	defer downloadStream.Close()

	data, err := io.ReadAll(downloadStream)
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}

	metadata := downloadStream.GetFile().Metadata
	originalID, _ := metadata.Lookup("original_message_id").StringValueOK()
	from, _ := metadata.Lookup("from").StringValueOK()
	contentType, _ := metadata.Lookup("content_type").StringValueOK()
	checksum, _ := metadata.Lookup("checksum").StringValueOK()
	receivedAt, _ := metadata.Lookup("received_at").TimeOK()

	return &storage.Receipt{
		ID:                id,
		OriginalMessageID: originalID,
		From:              from,
		ContentType:       contentType,
		Data:              data,
		Checksum:          checksum,
		ReceivedAt:        receivedAt,
	}, nil
}

var _ storage.Store = (*Store)(nil)
