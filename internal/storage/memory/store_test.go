package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/internal/storage"
)

func TestStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	rec := &storage.TransferRecord{
		MessageID: "<1@acme>",
		Direction: storage.DirectionOutbound,
		Status:    storage.StatusAwaitingMDN,
		From:      "acme",
		To:        "globex",
		MIC:       "abc=, sha1",
	}
	require.NoError(t, s.Record(ctx, rec))
	assert.Equal(t, "outbound:<1@acme>", rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.StatusAwaitingMDN, got.Status)

	// returned records are copies
	got.Status = storage.StatusFailed
	again, _ := s.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	assert.Equal(t, storage.StatusAwaitingMDN, again.Status)

	missing, err := s.Get(ctx, storage.DirectionInbound, "<1@acme>")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_RecordRequiresMessageID(t *testing.T) {
	assert.Error(t, NewStore().Record(context.Background(), &storage.TransferRecord{}))
}

func TestStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Record(ctx, &storage.TransferRecord{
		MessageID: "<1@acme>",
		Direction: storage.DirectionOutbound,
		Status:    storage.StatusAwaitingMDN,
	}))

	require.NoError(t, s.UpdateStatus(ctx, storage.DirectionOutbound, "<1@acme>", storage.StatusUpdate{
		Status:      storage.StatusConfirmed,
		Disposition: "automatic-action/MDN-sent-automatically; processed",
		ReceiptID:   "r1",
	}))

	got, err := s.Get(ctx, storage.DirectionOutbound, "<1@acme>")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, got.Status)
	assert.Equal(t, "r1", got.ReceiptID)
	assert.NotNil(t, got.ConfirmedAt)

	err = s.UpdateStatus(ctx, storage.DirectionInbound, "<1@acme>", storage.StatusUpdate{Status: storage.StatusRejected})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	records := []*storage.TransferRecord{
		{MessageID: "1", Direction: storage.DirectionOutbound, Status: storage.StatusConfirmed, From: "acme", To: "globex", CreatedAt: base},
		{MessageID: "2", Direction: storage.DirectionOutbound, Status: storage.StatusExpired, From: "acme", To: "initech", CreatedAt: base.Add(time.Minute)},
		{MessageID: "3", Direction: storage.DirectionInbound, Status: storage.StatusDelivered, From: "globex", To: "acme", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, s.Record(ctx, rec))
	}

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].MessageID)

	outbound, err := s.List(ctx, &storage.TransferFilter{Direction: storage.DirectionOutbound})
	require.NoError(t, err)
	assert.Len(t, outbound, 2)

	globex, err := s.List(ctx, &storage.TransferFilter{Party: "GLOBEX"})
	require.NoError(t, err)
	assert.Len(t, globex, 2)

	since := base.Add(30 * time.Second)
	recent, err := s.List(ctx, &storage.TransferFilter{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "3", recent[0].MessageID)

	paged, err := s.List(ctx, &storage.TransferFilter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "1", paged[0].MessageID)

	empty, err := s.List(ctx, &storage.TransferFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Receipts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.StoreReceipt(ctx, &storage.Receipt{
		OriginalMessageID: "<1@acme>",
		From:              "globex",
		ContentType:       "multipart/report",
		Data:              []byte("mdn"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetReceipt(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mdn", string(got.Data))
	assert.Equal(t, "<1@acme>", got.OriginalMessageID)
	assert.Len(t, got.Checksum, 64)

	missing, err := s.GetReceipt(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
