package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// newTestStore opens a private in-memory store with the schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{
		Endpoint:  MemoryEndpoint,
		Namespace: "dev",
		Database:  "bioma",
	}, slogt.New(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestActorRecordCRUD(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref := ActorRef{Tag: "worker", Path: "/workers/1"}
	row := ActorRow{
		Ref:       ref,
		State:     []byte(`{"count":0}`),
		CreatedAt: time.Now().UnixNano(),
	}

	require.NoError(t, store.CreateActor(ctx, row))

	// A second create for the same ref trips the unique constraint.
	err := store.CreateActor(ctx, row)
	require.True(t, IsUniqueConstraintError(err))

	got, err := store.GetActor(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, row.State, got.State)

	require.NoError(t, store.UpdateActorState(
		ctx, ref, []byte(`{"count":3}`),
	))

	got, err = store.GetActor(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"count":3}`), got.State)

	require.NoError(t, store.DeleteActor(ctx, ref))

	_, err = store.GetActor(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	// Updating a deleted record reports not found.
	err = store.UpdateActorState(ctx, ref, []byte(`{}`))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRequestWatermarkOrdering(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	recipient := ActorRef{Tag: "worker", Path: "/w"}
	sender := ActorRef{Tag: "relay", Path: "/relay"}

	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertRequest(ctx, RequestRow{
			RequestID:  uuid.NewString(),
			Sender:     sender,
			Recipient:  recipient,
			MessageTag: "test.message",
			Payload:    []byte(`{}`),
			CreatedAt:  time.Now().UnixNano(),
		}))
	}

	rows, err := store.RequestsAfter(ctx, recipient, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// Row ids are strictly increasing in insertion order, so resuming
	// from a watermark only yields the tail.
	for i := 1; i < len(rows); i++ {
		require.Greater(t, rows[i].RowID, rows[i-1].RowID)
	}

	tail, err := store.RequestsAfter(ctx, recipient, rows[2].RowID)
	require.NoError(t, err)
	require.Len(t, tail, 2)

	// Acknowledged requests disappear from the queue.
	require.NoError(t, store.DeleteRequest(ctx, rows[0].RequestID))

	rows, err = store.RequestsAfter(ctx, recipient, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestReplySequenceOrdering(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		requestID := uuid.NewString()
		count := rapid.IntRange(0, 8).Draw(t, "count")

		sender := ActorRef{Tag: "worker", Path: "/w"}
		recipient := ActorRef{Tag: "relay", Path: "/relay"}

		for seq := 1; seq <= count; seq++ {
			require.NoError(t, store.InsertReply(ctx, ReplyRow{
				ReplyID:   uuid.NewString(),
				RequestID: requestID,
				Sender:    sender,
				Recipient: recipient,
				Seq:       int64(seq),
				Kind:      ReplyChunk,
				Payload:   []byte(`{}`),
				CreatedAt: time.Now().UnixNano(),
			}))
		}

		// Exactly one terminal per request.
		require.NoError(t, store.InsertReply(ctx, ReplyRow{
			ReplyID:   uuid.NewString(),
			RequestID: requestID,
			Sender:    sender,
			Recipient: recipient,
			Seq:       int64(count + 1),
			Kind:      ReplyDone,
			CreatedAt: time.Now().UnixNano(),
		}))

		rows, err := store.RepliesAfter(ctx, requestID, 0)
		require.NoError(t, err)
		require.Len(t, rows, count+1)

		for i, row := range rows {
			require.Equal(t, int64(i+1), row.Seq)
		}
		require.Equal(t, ReplyDone, rows[len(rows)-1].Kind)

		// A duplicate sequence number is rejected.
		err = store.InsertReply(ctx, ReplyRow{
			ReplyID:   uuid.NewString(),
			RequestID: requestID,
			Sender:    sender,
			Recipient: recipient,
			Seq:       1,
			Kind:      ReplyChunk,
			Payload:   []byte(`{}`),
			CreatedAt: time.Now().UnixNano(),
		})
		require.True(t, IsUniqueConstraintError(err))
	})
}

func TestHealthUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref := ActorRef{Tag: "worker", Path: "/w"}

	_, err := store.GetHealth(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	first := time.Now().UnixNano()
	require.NoError(t, store.UpsertHealth(ctx, HealthRow{
		Ref:            ref,
		LastHeartbeat:  first,
		UpdateInterval: int64(100 * time.Millisecond),
	}))

	second := time.Now().UnixNano()
	require.NoError(t, store.UpsertHealth(ctx, HealthRow{
		Ref:            ref,
		LastHeartbeat:  second,
		UpdateInterval: int64(100 * time.Millisecond),
	}))

	got, err := store.GetHealth(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, second, got.LastHeartbeat)
	require.GreaterOrEqual(t, got.LastHeartbeat, first)

	require.NoError(t, store.DeleteHealth(ctx, ref))

	_, err = store.GetHealth(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeActor(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref := ActorRef{Tag: "worker", Path: "/w"}
	other := ActorRef{Tag: "relay", Path: "/relay"}

	require.NoError(t, store.CreateActor(ctx, ActorRow{
		Ref:       ref,
		State:     []byte(`{}`),
		CreatedAt: time.Now().UnixNano(),
	}))
	require.NoError(t, store.InsertRequest(ctx, RequestRow{
		RequestID:  uuid.NewString(),
		Sender:     other,
		Recipient:  ref,
		MessageTag: "test.message",
		Payload:    []byte(`{}`),
		CreatedAt:  time.Now().UnixNano(),
	}))
	require.NoError(t, store.UpsertHealth(ctx, HealthRow{
		Ref:            ref,
		LastHeartbeat:  time.Now().UnixNano(),
		UpdateInterval: int64(time.Second),
	}))

	require.NoError(t, store.PurgeActor(ctx, ref))

	_, err := store.GetActor(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	rows, err := store.RequestsAfter(ctx, ref, 0)
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = store.GetHealth(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResetIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref := ActorRef{Tag: "worker", Path: "/w"}
	require.NoError(t, store.CreateActor(ctx, ActorRow{
		Ref:       ref,
		State:     []byte(`{}`),
		CreatedAt: time.Now().UnixNano(),
	}))

	require.NoError(t, store.Reset(ctx))
	require.NoError(t, store.Reset(ctx))

	_, err := store.GetActor(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	// The schema is back, writes work again.
	require.NoError(t, store.CreateActor(ctx, ActorRow{
		Ref:       ref,
		State:     []byte(`{}`),
		CreatedAt: time.Now().UnixNano(),
	}))
}
