// Package worker drains the outbox queue into PostgreSQL.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
	"authcore.org/internal/queue"
)

// Source hands out queued messages. *queue.List implements it.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Ack(ctx context.Context, payload []byte) error
	Recover(ctx context.Context) (int, error)
}

// Applier writes one message atomically. *pg.Applier implements it.
type Applier interface {
	Apply(ctx context.Context, msg outbox.Message) error
}

// Worker pops messages, applies them and acknowledges them. Failed messages
// are logged and dropped; they are never retried.
type Worker struct {
	source       Source
	applier      Applier
	workers      int
	pollTimeout  time.Duration
	applyTimeout time.Duration
	backoff      time.Duration
	tracer       trace.Tracer
}

// Option configures a Worker.
type Option func(*Worker) error

// WithConcurrency sets the number of goroutines consuming the queue.
func WithConcurrency(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			return fmt.Errorf("worker: concurrency must be positive, got %d", n)
		}
		w.workers = n
		return nil
	}
}

// WithPollTimeout sets how long one Pop blocks waiting for a message.
func WithPollTimeout(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return errors.New("worker: poll timeout must be positive")
		}
		w.pollTimeout = d
		return nil
	}
}

// WithApplyTimeout bounds a single message apply.
func WithApplyTimeout(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return errors.New("worker: apply timeout must be positive")
		}
		w.applyTimeout = d
		return nil
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) error {
		if t == nil {
			return errors.New("worker: tracer is nil")
		}
		w.tracer = t
		return nil
	}
}

// New returns a worker reading from source and writing through applier.
func New(source Source, applier Applier, opts ...Option) (*Worker, error) {
	if source == nil {
		return nil, errors.New("worker: source is nil")
	}
	if applier == nil {
		return nil, errors.New("worker: applier is nil")
	}
	w := &Worker{
		source:       source,
		applier:      applier,
		workers:      1,
		pollTimeout:  5 * time.Second,
		applyTimeout: 30 * time.Second,
		backoff:      time.Second,
		tracer:       otel.Tracer("authcore.org/internal/worker"),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func logger() *logrus.Entry {
	return obs.Component("worker", "runtime")
}

// Run requeues messages a previous process left in flight, then consumes
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	moved, err := w.source.Recover(ctx)
	if err != nil {
		return fmt.Errorf("worker: recover in-flight messages: %w", err)
	}
	if moved > 0 {
		logger().WithFields(logrus.Fields{"event": "inflight_recovered", "messages": moved}).Warn("requeued in-flight messages")
	}
	logger().WithFields(logrus.Fields{"event": "worker_started", "concurrency": w.workers}).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	logger().WithField("event", "worker_stopped").Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger().WithError(err).WithFields(logrus.Fields{"event": "queue_pop_failed", "goroutine": id}).Error("pop message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
		}
	}
}

// RunOnce handles at most one message. It reports whether a message was
// taken; the error is only set when the queue itself failed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	payload, err := w.source.Pop(ctx, w.pollTimeout)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	start := time.Now()
	result := "ok"
	if err := w.handle(ctx, payload); err != nil {
		result = "error"
		logger().WithError(err).WithField("event", "message_failed").Error("message abandoned")
	}
	obs.ObserveWorkerMessage(result, time.Since(start))

	if err := w.source.Ack(ctx, payload); err != nil {
		logger().WithError(err).WithField("event", "message_ack_failed").Error("ack message")
	}
	return true, nil
}

func (w *Worker) handle(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger().WithFields(logrus.Fields{
				"event": "message_panic",
				"stack": string(debug.Stack()),
			}).Error("panic while applying message")
			err = fmt.Errorf("worker: panic: %v", r)
		}
	}()

	msg, err := outbox.DecodeMessage(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.applyTimeout)
	defer cancel()
	ctx, span := w.tracer.Start(ctx, "worker.apply", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.Int("message.operations", len(msg.Operations)),
	))
	defer span.End()

	if err := w.applier.Apply(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger().WithFields(logrus.Fields{
		"event":      "message_applied",
		"message_id": msg.ID,
		"operations": len(msg.Operations),
		"lag_ms":     time.Since(msg.CreatedAt).Milliseconds(),
	}).Debug("message applied")
	return nil
}
