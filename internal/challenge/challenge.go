// Package challenge implements the single-use, time-boxed codes ("randoms")
// behind signup completion, password restore and email change.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
)

// DefaultExpiry is how long a code stays usable after it was issued.
const DefaultExpiry = 10 * time.Minute

const (
	minCode = 11111
	maxCode = 99999
)

// Workflow issues, checks and consumes challenges.
type Workflow struct {
	store  auth.Store
	expiry time.Duration
	now    func() time.Time
	fixed  string
}

// Option configures a Workflow.
type Option func(*Workflow) error

// WithExpiry overrides DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	return func(w *Workflow) error {
		if d > 0 {
			w.expiry = d
		}
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) error {
		if now != nil {
			w.now = now
		}
		return nil
	}
}

// WithFixedCode makes every issued code equal to code. Test deployments only.
func WithFixedCode(code string) Option {
	return func(w *Workflow) error {
		if code == "" {
			return nil
		}
		if err := auth.ValidateCode("fixed code", code); err != nil {
			return err
		}
		w.fixed = code
		return nil
	}
}

// New constructs a Workflow reading challenges from store.
func New(store auth.Store, opts ...Option) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("challenge: store is required")
	}
	w := &Workflow{store: store, expiry: DefaultExpiry, now: time.Now}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Get returns the challenge of subject for flow, or NotFound(random).
func (w *Workflow) Get(ctx context.Context, subject, flow string) (*auth.Challenge, error) {
	c, err := w.store.Challenges(ctx).Find(ctx, subject, flow)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.NotFound("random")
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: find: %w", err)
	}
	return c, nil
}

// EnsureAbsent fails with AlreadyExists(random) when subject already has a challenge for flow.
func (w *Workflow) EnsureAbsent(ctx context.Context, subject, flow string) error {
	_, err := w.store.Challenges(ctx).Find(ctx, subject, flow)
	switch {
	case err == nil:
		return auth.AlreadyExists("random")
	case errors.Is(err, auth.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("challenge: find: %w", err)
	}
}

// IsExpired reports whether a code issued at updatedAt is past the expiry window.
func (w *Workflow) IsExpired(updatedAt time.Time) bool {
	return w.now().Sub(updatedAt) > w.expiry
}

// EnsureExpired allows regeneration only once the current code has expired.
func (w *Workflow) EnsureExpired(c *auth.Challenge) error {
	if !w.IsExpired(c.Updated) {
		return auth.ChallengeNotYetExpired()
	}
	return nil
}

// Verify checks expiry first, then the code.
func (w *Workflow) Verify(c *auth.Challenge, code string) error {
	if w.IsExpired(c.Updated) {
		return auth.ChallengeExpired()
	}
	if c.Key != code {
		return auth.Incorrect("random")
	}
	return nil
}

// RegenerateCode returns a fresh five digit code.
func (w *Workflow) RegenerateCode() (string, error) {
	if w.fixed != "" {
		return w.fixed, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", fmt.Errorf("challenge: generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+minCode, 10), nil
}

func key(subject, flow string) outbox.Fields {
	return outbox.Fields{"id": subject, "flow": flow}
}

// Create issues a new challenge and returns it with its operations.
func (w *Workflow) Create(rec *outbox.Recorder, subject, flow, value string) (auth.Challenge, []outbox.Operation, error) {
	code, err := w.RegenerateCode()
	if err != nil {
		return auth.Challenge{}, nil, err
	}
	now := w.now().UTC()
	c := auth.Challenge{ID: subject, Flow: flow, Key: code, Value: value, Created: now, Updated: now}
	ops := rec.On(outbox.TableChallenges).Create(outbox.Fields{
		"id": subject, "flow": flow, "key": code, "value": value, "created": now, "updated": now,
	})
	return c, ops, nil
}

// Update replaces the code of an existing challenge and restarts its window.
func (w *Workflow) Update(rec *outbox.Recorder, c auth.Challenge, code string) (auth.Challenge, []outbox.Operation) {
	now := w.now().UTC()
	c.Key = code
	c.Updated = now
	ops := rec.On(outbox.TableChallenges).Update(key(c.ID, c.Flow), outbox.Fields{"key": code, "updated": now})
	return c, ops
}

// Regenerate issues a new code for c.
func (w *Workflow) Regenerate(rec *outbox.Recorder, c auth.Challenge) (auth.Challenge, []outbox.Operation, error) {
	code, err := w.RegenerateCode()
	if err != nil {
		return auth.Challenge{}, nil, err
	}
	c, ops := w.Update(rec, c, code)
	return c, ops, nil
}

// Delete consumes the challenge of subject for flow.
func (w *Workflow) Delete(rec *outbox.Recorder, subject, flow string) []outbox.Operation {
	return rec.On(outbox.TableChallenges).Delete(key(subject, flow))
}

// DeleteForSubject removes every challenge of subject.
func (w *Workflow) DeleteForSubject(rec *outbox.Recorder, subject string) []outbox.Operation {
	return rec.On(outbox.TableChallenges).DeleteManyBy(outbox.Fields{"id": subject})
}
