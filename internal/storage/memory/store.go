// Package memory implements the storage interfaces in process memory.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as2/internal/storage"
)

// Store implements storage.Store in memory
type Store struct {
	mu        sync.RWMutex
	transfers map[string]*storage.TransferRecord
	receipts  map[string]*storage.Receipt
	now       func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		transfers: make(map[string]*storage.TransferRecord),
		receipts:  make(map[string]*storage.Receipt),
		now:       time.Now,
	}
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// TransferStore implementation

func (s *Store) Record(_ context.Context, rec *storage.TransferRecord) error {
	if rec.MessageID == "" {
		return fmt.Errorf("record has no message ID")
	}
	now := s.now()
	rec.ID = storage.RecordID(rec.Direction, rec.MessageID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	cp := *rec
	s.mu.Lock()
	s.transfers[rec.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, direction storage.Direction, messageID string, upd storage.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[storage.RecordID(direction, messageID)]
	if !ok {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, direction, messageID)
	}
	upd.Apply(rec, s.now())
	return nil
}

func (s *Store) Get(_ context.Context, direction storage.Direction, messageID string) (*storage.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transfers[storage.RecordID(direction, messageID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) List(_ context.Context, filter *storage.TransferFilter) ([]*storage.TransferRecord, error) {
	s.mu.RLock()
	var records []*storage.TransferRecord
	for _, rec := range s.transfers {
		if matches(rec, filter) {
			cp := *rec
			records = append(records, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(records) {
				return nil, nil
			}
			records = records[filter.Offset:]
		}
		if filter.Limit > 0 && len(records) > filter.Limit {
			records = records[:filter.Limit]
		}
	}
	return records, nil
}

func matches(rec *storage.TransferRecord, filter *storage.TransferFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Direction != "" && rec.Direction != filter.Direction {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if filter.Party != "" && !strings.EqualFold(rec.From, filter.Party) && !strings.EqualFold(rec.To, filter.Party) {
		return false
	}
	if filter.Since != nil && rec.CreatedAt.Before(*filter.Since) {
		return false
	}
	return true
}

// ReceiptStore implementation

func (s *Store) StoreReceipt(_ context.Context, receipt *storage.Receipt) (string, error) {
	if receipt.Checksum == "" {
		hash := sha256.Sum256(receipt.Data)
		receipt.Checksum = hex.EncodeToString(hash[:])
	}
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = s.now()
	}

	cp := *receipt
	cp.Data = append([]byte(nil), receipt.Data...)
	s.mu.Lock()
	s.receipts[receipt.ID] = &cp
	s.mu.Unlock()
	return receipt.ID, nil
}

func (s *Store) GetReceipt(_ context.Context, id string) (*storage.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, nil
	}
	cp := *receipt
	cp.Data = append([]byte(nil), receipt.Data...)
	return &cp, nil
}

var _ storage.Store = (*Store)(nil)
