// Package queue carries outbox messages and email jobs over Redis lists.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrEmpty is returned by Pop when no item arrived before the timeout.
var ErrEmpty = errors.New("queue: empty")

// Connect parses url, dials Redis and checks the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// List is a reliable FIFO over a Redis list. Popped items move to a processing
// list and stay there until acknowledged.
type List struct {
	client     *redis.Client
	name       string
	processing string
}

// NewList returns the list called name.
func NewList(client *redis.Client, name string) *List {
	return &List{client: client, name: name, processing: name + ":processing"}
}

// Name returns the list key.
func (l *List) Name() string { return l.name }

// Push appends payload to the tail of the list.
func (l *List) Push(ctx context.Context, payload []byte) error {
	if err := l.client.LPush(ctx, l.name, payload).Err(); err != nil {
		return fmt.Errorf("queue: push %s: %w", l.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest item and parks it in the processing list.
func (l *List) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	data, err := l.client.BRPopLPush(ctx, l.name, l.processing, timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: pop %s: %w", l.name, err)
	}
	return data, nil
}

// Ack drops a processed item from the processing list.
func (l *List) Ack(ctx context.Context, payload []byte) error {
	if err := l.client.LRem(ctx, l.processing, 1, payload).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", l.name, err)
	}
	return nil
}

// Recover moves items left in the processing list by a crashed consumer back
// onto the queue, behind the items already waiting. It returns how many were moved.
func (l *List) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := l.client.RPopLPush(ctx, l.processing, l.name).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("queue: recover %s: %w", l.name, err)
		}
		n++
	}
}

// Len reports the number of waiting items.
func (l *List) Len(ctx context.Context) (int64, error) {
	return l.client.LLen(ctx, l.name).Result()
}

// InFlight reports the number of popped, unacknowledged items.
func (l *List) InFlight(ctx context.Context) (int64, error) {
	return l.client.LLen(ctx, l.processing).Result()
}
