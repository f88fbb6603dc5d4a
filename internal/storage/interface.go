// Package storage provides the transfer audit trail of an AS2 node.
//
// # Interface Design
//
//   - [TransferStore]: one record per transfer and direction, updated as the
//     transfer progresses (sent, awaiting MDN, confirmed, expired, ...)
//   - [ReceiptStore]: raw MDNs received from partners, kept as evidence of
//     receipt
//
// The [Store] interface combines both.
//
// # Implementations
//
// The mongodb sub-package stores records in MongoDB and receipts in GridFS.
// The memory sub-package keeps everything in process and is used when no
// database is configured and in tests.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	TransferStore
	ReceiptStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// TransferStore records transfers
type TransferStore interface {
	// Record stores a new transfer record. Recording the same direction and
	// message ID twice replaces the earlier record.
	Record(ctx context.Context, rec *TransferRecord) error

	// UpdateStatus changes the status of an existing record. It returns
	// ErrNotFound when no record exists.
	UpdateStatus(ctx context.Context, direction Direction, messageID string, upd StatusUpdate) error

	// Get retrieves a record, or nil if none exists
	Get(ctx context.Context, direction Direction, messageID string) (*TransferRecord, error)

	// List returns records with filtering, newest first
	List(ctx context.Context, filter *TransferFilter) ([]*TransferRecord, error)
}

// ReceiptStore keeps received MDNs
type ReceiptStore interface {
	// StoreReceipt stores the raw MDN acknowledging messageID and returns
	// its ID
	StoreReceipt(ctx context.Context, receipt *Receipt) (string, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
}

// ErrNotFound is returned when updating a record that does not exist
var ErrNotFound = errors.New("record not found")

// Domain models

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type TransferStatus string

const (
	StatusReceived    TransferStatus = "received"     // Inbound accepted, not yet delivered
	StatusDelivered   TransferStatus = "delivered"    // Inbound payload written to the delivery folder
	StatusRejected    TransferStatus = "rejected"     // Inbound refused
	StatusSent        TransferStatus = "sent"         // Outbound posted, no MDN expected
	StatusAwaitingMDN TransferStatus = "awaiting_mdn" // Outbound posted, asynchronous MDN pending
	StatusConfirmed   TransferStatus = "confirmed"    // Outbound acknowledged by a matching MDN
	StatusExpired     TransferStatus = "expired"      // No MDN within the confirmation window
	StatusFailed      TransferStatus = "failed"       // Outbound failed
)

// TransferRecord is the audit entry of one transfer
type TransferRecord struct {
	ID        string         `bson:"_id" json:"id"`
	MessageID string         `bson:"message_id" json:"messageId"`
	Direction Direction      `bson:"direction" json:"direction"`
	Status    TransferStatus `bson:"status" json:"status"`

	// Routing
	From string `bson:"from" json:"from"`
	To   string `bson:"to" json:"to"`

	// Payload
	FileName string `bson:"file_name,omitempty" json:"fileName,omitempty"`
	Size     int64  `bson:"size" json:"size"`
	MIC      string `bson:"mic,omitempty" json:"mic,omitempty"`

	// Security layers present on the wire
	Encrypted  bool `bson:"encrypted" json:"encrypted"`
	Signed     bool `bson:"signed" json:"signed"`
	Compressed bool `bson:"compressed" json:"compressed"`

	// Acknowledgment
	MDNMode     string `bson:"mdn_mode,omitempty" json:"mdnMode,omitempty"`
	Disposition string `bson:"disposition,omitempty" json:"disposition,omitempty"`
	ReceiptID   string `bson:"receipt_id,omitempty" json:"receiptId,omitempty"`

	// Failure
	ErrorKind string `bson:"error_kind,omitempty" json:"errorKind,omitempty"`
	LastError string `bson:"last_error,omitempty" json:"lastError,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updatedAt"`
	ConfirmedAt *time.Time `bson:"confirmed_at,omitempty" json:"confirmedAt,omitempty"`
}

// RecordID is the key of a record.
func RecordID(direction Direction, messageID string) string {
	return string(direction) + ":" + messageID
}

// StatusUpdate carries the fields changed by UpdateStatus. Empty fields are
// left untouched.
type StatusUpdate struct {
	Status      TransferStatus
	Disposition string
	ReceiptID   string
	ErrorKind   string
	LastError   string
}

// Apply copies the non-empty fields of upd into rec.
func (upd StatusUpdate) Apply(rec *TransferRecord, now time.Time) {
	if upd.Status != "" {
		rec.Status = upd.Status
		if upd.Status == StatusConfirmed {
			rec.ConfirmedAt = &now
		}
	}
	if upd.Disposition != "" {
		rec.Disposition = upd.Disposition
	}
	if upd.ReceiptID != "" {
		rec.ReceiptID = upd.ReceiptID
	}
	if upd.ErrorKind != "" {
		rec.ErrorKind = upd.ErrorKind
	}
	if upd.LastError != "" {
		rec.LastError = upd.LastError
	}
	rec.UpdatedAt = now
}

type TransferFilter struct {
	Direction Direction
	Status    TransferStatus
	Party     string // matches From or To
	Since     *time.Time
	Limit     int
	Offset    int
}

// Receipt is a received MDN
type Receipt struct {
	ID                string    `json:"id"`
	OriginalMessageID string    `json:"originalMessageId"`
	From              string    `json:"from"`
	ContentType       string    `json:"contentType"`
	Data              []byte    `json:"-"`
	Checksum          string    `json:"checksum"`
	ReceivedAt        time.Time `json:"receivedAt"`
}
