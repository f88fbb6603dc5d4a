package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/internal/storage"
	"github.com/sirosfoundation/go-as2/internal/storage/memory"
	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

var sentAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func outbound(status as2.TransferStatus) as2.TransferEvent {
	return as2.TransferEvent{
		Type:      as2.EventOutbound,
		MessageID: "<1@acme>",
		Timestamp: sentAt,
		Status:    status,
		Direction: message.DirectionOutbound,
		From:      "acme",
		To:        "globex",
		FileName:  "invoice.xml",
		Size:      42,
		MIC:       "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=, sha1",
		Layers:    security.Layers{Encrypted: true, Signed: true},
		MDNMode:   party.MDNAsync,
	}
}

func TestAudit_AsyncConfirmation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	audit := storage.NewAudit(store, nil)

	audit.Handle(outbound(as2.StatusAwaitingMDN))

	rec, err := store.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, storage.StatusAwaitingMDN, rec.Status)
	assert.Equal(t, "globex", rec.To)
	assert.Equal(t, "async", rec.MDNMode)
	assert.True(t, rec.Encrypted)
	assert.True(t, rec.Signed)
	assert.False(t, rec.Compressed)
	assert.Equal(t, sentAt, rec.CreatedAt)

	audit.Handle(as2.TransferEvent{
		Type:        as2.EventMDN,
		MessageID:   "<1@acme>",
		Timestamp:   sentAt.Add(time.Second),
		Status:      as2.StatusConfirmed,
		Direction:   message.DirectionOutbound,
		From:        "acme",
		To:          "globex",
		Disposition: message.DispositionProcessed,
		Receipt:     &as2.Receipt{ContentType: "multipart/signed", Data: []byte("signed mdn")},
	})

	rec, err = store.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, rec.Status)
	assert.Equal(t, message.DispositionProcessed, rec.Disposition)
	assert.NotNil(t, rec.ConfirmedAt)
	require.NotEmpty(t, rec.ReceiptID)

	receipt, err := store.GetReceipt(ctx, rec.ReceiptID)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "signed mdn", string(receipt.Data))
	assert.Equal(t, "globex", receipt.From)
	assert.Equal(t, "<1@acme>", receipt.OriginalMessageID)
}

func TestAudit_FailureRecordsErrorKind(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	audit := storage.NewAudit(store, nil)

	audit.Handle(outbound(as2.StatusAwaitingMDN))
	ev := outbound(as2.StatusFailed)
	ev.Error = fmt.Errorf("%w: connection refused", message.ErrTransport)
	audit.Handle(ev)

	rec, err := store.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.Equal(t, "transport", rec.ErrorKind)
	assert.Contains(t, rec.LastError, "connection refused")
}

func TestAudit_InboundRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	audit := storage.NewAudit(store, nil)

	audit.Handle(as2.TransferEvent{
		Type:      as2.EventInbound,
		MessageID: "<9@globex>",
		Status:    as2.StatusRejected,
		Direction: message.DirectionInbound,
		From:      "globex",
		To:        "acme",
		Error:     fmt.Errorf("%w: message <9@globex> is not encrypted", message.ErrPolicyViolation),
	})

	rec, err := store.Get(ctx, storage.DirectionInbound, "<9@globex>")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, storage.StatusRejected, rec.Status)
	assert.Equal(t, "policy", rec.ErrorKind)
	assert.Nil(t, rec.ConfirmedAt)
}

func TestAudit_IgnoresEventsWithoutMessageID(t *testing.T) {
	store := memory.NewStore()
	storage.NewAudit(store, nil).Handle(as2.TransferEvent{
		Status:    as2.StatusFailed,
		Direction: message.DirectionOutbound,
		Error:     message.ErrConfiguration,
	})

	all, err := store.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}
