package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
)

// Producer is the outbox processor that hands batches to the durable worker.
type Producer struct {
	list *List
	now  func() time.Time
}

var _ outbox.Processor = (*Producer)(nil)

// NewProducer returns a processor pushing to list. A nil clock means time.Now.
func NewProducer(list *List, now func() time.Time) *Producer {
	if now == nil {
		now = time.Now
	}
	return &Producer{list: list, now: now}
}

// Process validates the batch, wraps it in a message and enqueues it.
func (p *Producer) Process(ctx context.Context, ops []outbox.Operation) (err error) {
	defer func() { obs.ObserveBatch("queue", outbox.Kinds(ops), err) }()
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("queue: operation %d: %w", i, err)
		}
	}
	msg := outbox.NewMessage(ops, p.now())
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	if err := p.list.Push(ctx, payload); err != nil {
		return err
	}
	obs.Logger().WithFields(logrus.Fields{
		"event":      "outbox_enqueued",
		"module":     "queue",
		"layer":      "adapter",
		"message_id": msg.ID,
		"operations": len(ops),
	}).Debug("message enqueued")
	return nil
}
