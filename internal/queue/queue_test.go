package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"authcore.org/internal/outbox"
)

func setupList(t *testing.T) (*List, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewList(client, "auth_db_transactions"), mr
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	require.Error(t, err)
}

func TestListFIFOAndAck(t *testing.T) {
	l, _ := setupList(t)
	ctx := context.Background()

	require.NoError(t, l.Push(ctx, []byte("first")))
	require.NoError(t, l.Push(ctx, []byte("second")))

	got, err := l.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	n, err := l.InFlight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, l.Ack(ctx, got))
	n, _ = l.InFlight(ctx)
	require.EqualValues(t, 0, n)

	got, err = l.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	_, err = l.Pop(ctx, time.Second)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestRecoverRequeuesInFlight(t *testing.T) {
	l, _ := setupList(t)
	ctx := context.Background()
	require.NoError(t, l.Push(ctx, []byte("a")))
	require.NoError(t, l.Push(ctx, []byte("b")))
	_, err := l.Pop(ctx, time.Second)
	require.NoError(t, err)
	_, err = l.Pop(ctx, time.Second)
	require.NoError(t, err)

	moved, err := l.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, moved)

	waiting, err := l.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, waiting)
	inflight, _ := l.InFlight(ctx)
	require.EqualValues(t, 0, inflight)

	got, err := l.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", string(got))
}

func TestProducerEnqueuesMessage(t *testing.T) {
	l, mr := setupList(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewProducer(l, func() time.Time { return now })

	ops := outbox.NewRecorder("", func() time.Time { return now }).On(outbox.TableGroups).Create(outbox.Fields{
		"id": "staff", "is_original": false, "created": now, "updated": now,
	})
	require.NoError(t, p.Process(ctx, ops))

	items, err := mr.List("auth_db_transactions")
	require.NoError(t, err)
	require.Len(t, items, 1)

	msg, err := outbox.DecodeMessage([]byte(items[0]))
	require.NoError(t, err)
	require.Len(t, msg.Operations, 2)
	require.Equal(t, outbox.KindCreate, msg.Operations[0].Kind)
	require.True(t, msg.CreatedAt.Equal(now))
}

func TestProducerRejectsInvalidBatch(t *testing.T) {
	l, mr := setupList(t)
	p := NewProducer(l, nil)
	err := p.Process(context.Background(), []outbox.Operation{outbox.Create("nope", outbox.Fields{"id": "x"})})
	require.ErrorIs(t, err, outbox.ErrInvalidOperation)
	require.False(t, mr.Exists("auth_db_transactions"))
}

func TestProducerReportsUnreachableQueue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	p := NewProducer(NewList(client, "auth_db_transactions"), nil)
	ops := []outbox.Operation{outbox.Delete(outbox.TableSessions, outbox.Fields{"user_id": "u", "session_id": "s"})}
	require.Error(t, p.Process(context.Background(), ops))
}
