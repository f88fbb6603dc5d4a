package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/message"
)

const auditTimeout = 10 * time.Second

// Audit keeps the transfer audit trail from controller events
type Audit struct {
	store  Store
	logger *slog.Logger
}

// NewAudit creates an audit recorder writing to store
func NewAudit(store Store, logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audit{store: store, logger: logger}
}

// Handle records ev. It has the signature of as2.EventHandler. The first
// event of a transfer creates its record, later events update it.
func (a *Audit) Handle(ev as2.TransferEvent) {
	if ev.MessageID == "" {
		a.logger.Debug("transfer event without message ID not recorded",
			slog.String("status", string(ev.Status)),
			slog.String("to", ev.To))
		return
	}
	log := a.logger.With(
		slog.String("message_id", ev.MessageID),
		slog.String("direction", string(ev.Direction)))

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	var receiptID string
	if ev.Receipt != nil {
		id, err := a.store.StoreReceipt(ctx, &Receipt{
			OriginalMessageID: ev.MessageID,
			From:              ev.To,
			ContentType:       ev.Receipt.ContentType,
			Data:              ev.Receipt.Data,
			ReceivedAt:        ev.Timestamp,
		})
		if err != nil {
			log.Error("failed to store receipt", slog.String("error", err.Error()))
		}
		receiptID = id
	}

	direction := Direction(ev.Direction)
	existing, err := a.store.Get(ctx, direction, ev.MessageID)
	if err != nil {
		log.Error("failed to read transfer record", slog.String("error", err.Error()))
		return
	}

	if existing == nil {
		err = a.store.Record(ctx, recordFrom(ev, receiptID))
	} else {
		upd := StatusUpdate{
			Status:      TransferStatus(ev.Status),
			Disposition: ev.Disposition,
			ReceiptID:   receiptID,
		}
		if ev.Error != nil {
			upd.ErrorKind = message.KindName(ev.Error)
			upd.LastError = ev.Error.Error()
		}
		err = a.store.UpdateStatus(ctx, direction, ev.MessageID, upd)
	}
	if err != nil {
		log.Error("failed to record transfer", slog.String("error", err.Error()))
	}
}

func recordFrom(ev as2.TransferEvent, receiptID string) *TransferRecord {
	rec := &TransferRecord{
		MessageID:   ev.MessageID,
		Direction:   Direction(ev.Direction),
		Status:      TransferStatus(ev.Status),
		From:        ev.From,
		To:          ev.To,
		FileName:    ev.FileName,
		Size:        ev.Size,
		MIC:         ev.MIC,
		Encrypted:   ev.Layers.Encrypted,
		Signed:      ev.Layers.Signed,
		Compressed:  ev.Layers.Compressed,
		MDNMode:     string(ev.MDNMode),
		Disposition: ev.Disposition,
		ReceiptID:   receiptID,
		CreatedAt:   ev.Timestamp,
	}
	if ev.Error != nil {
		rec.ErrorKind = message.KindName(ev.Error)
		rec.LastError = ev.Error.Error()
	}
	if ev.Status == as2.StatusConfirmed {
		confirmed := ev.Timestamp
		rec.ConfirmedAt = &confirmed
	}
	return rec
}
