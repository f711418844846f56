// Package usecase holds the orchestrators behind every public, account and
// admin operation. Each orchestrator validates its input, reads what it needs,
// checks its preconditions in order, builds one outbox batch and submits it once.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"authcore.org/internal/auth"
	"authcore.org/internal/challenge"
	"authcore.org/internal/manager"
	"authcore.org/internal/notify"
	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
	"authcore.org/internal/rbac"
	"authcore.org/internal/token"
)

// ErrProcessor wraps a failure of the transaction processor.
var ErrProcessor = errors.New("usecase: transaction processor failed")

// Service runs the orchestrators.
type Service struct {
	store      auth.Store
	processor  outbox.Processor
	tokens     *token.Service
	challenges *challenge.Workflow
	notifier   notify.Notifier
	resolver   *rbac.Resolver
	managers   *manager.Manager
	now        func() time.Time
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service) error

// WithNotifier sets where challenge codes are sent. The default logs them.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) error {
		if n == nil {
			return errors.New("notifier is nil")
		}
		s.notifier = n
		return nil
	}
}

// WithResolver overrides the grant resolver, for example with a cached source.
func WithResolver(r *rbac.Resolver) Option {
	return func(s *Service) error {
		if r == nil {
			return errors.New("resolver is nil")
		}
		s.resolver = r
		return nil
	}
}

// WithClock sets the time source used for every timestamp the service writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) error {
		if t != nil {
			s.tracer = t
		}
		return nil
	}
}

// New wires a Service.
func New(store auth.Store, processor outbox.Processor, tokens *token.Service, challenges *challenge.Workflow, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("usecase: store is required")
	case processor == nil:
		return nil, errors.New("usecase: processor is required")
	case tokens == nil:
		return nil, errors.New("usecase: token service is required")
	case challenges == nil:
		return nil, errors.New("usecase: challenge workflow is required")
	}
	s := &Service{
		store:      store,
		processor:  processor,
		tokens:     tokens,
		challenges: challenges,
		now:        time.Now,
		tracer:     otel.Tracer("authcore.org/internal/usecase"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("usecase: %w", err)
		}
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(nil)
	}
	if s.resolver == nil {
		s.resolver = rbac.NewResolver(store.Grants(context.Background()))
	}
	s.managers = manager.New(s.now)
	return s, nil
}

func (s *Service) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "usecase."+name)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) recorder(actor string) *outbox.Recorder {
	return outbox.NewRecorder(actor, s.now)
}

// submit hands the batch to the processor. It is called once per orchestrator.
func (s *Service) submit(ctx context.Context, op string, b *outbox.Batch) error {
	if err := s.processor.Process(ctx, b.Operations()); err != nil {
		obs.Component("usecase", "application").WithFields(logrus.Fields{
			"event":      "outbox_submit_failed",
			"operation":  op,
			"operations": b.Len(),
		}).WithError(err).Error("submit outbox batch")
		return fmt.Errorf("%w: %s: %w", ErrProcessor, op, err)
	}
	return nil
}

// lookup is the outcome of an optional read.
type lookup[T any] struct {
	v  T
	ok bool
}

// fetch runs fn on eg. A not-found result leaves dst empty instead of failing.
func fetch[T any](eg *errgroup.Group, dst *lookup[T], fn func() (T, error)) {
	eg.Go(func() error {
		v, err := fn()
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		dst.v, dst.ok = v, true
		return nil
	})
}

func need[T any](l lookup[T], field string) (T, error) {
	if !l.ok {
		var zero T
		return zero, auth.NotFound(field)
	}
	return l.v, nil
}

func absent[T any](l lookup[T], field string) error {
	if l.ok {
		return auth.AlreadyExists(field)
	}
	return nil
}

func one[T any](v T, err error, field string) (T, error) {
	if errors.Is(err, auth.ErrNotFound) {
		var zero T
		return zero, auth.NotFound(field)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("usecase: read %s: %w", field, err)
	}
	return v, nil
}

// found maps a store error to NotFound(field).
func found(err error, field string) error {
	_, err = one(struct{}{}, err, field)
	return err
}

func wait(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("usecase: read: %w", err)
	}
	return nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	return one(u, err, "email")
}

// missing turns the error of a lookup into AlreadyExists(field) when the row was found.
func missing(err error, field string) error {
	switch {
	case err == nil:
		return auth.AlreadyExists(field)
	case errors.Is(err, auth.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("usecase: read %s: %w", field, err)
	}
}

func (s *Service) emailUnused(ctx context.Context, email string) error {
	_, err := s.store.Users(ctx).FindByEmail(ctx, email)
	return missing(err, "email")
}

func (s *Service) userByID(ctx context.Context, id, field string) (*auth.User, error) {
	u, err := s.store.Users(ctx).Find(ctx, id)
	return one(u, err, field)
}

// requireComplete fails with StateConflict unless the signup state is want.
func requireComplete(u *auth.User, want bool) error {
	if u.IsComplete != want {
		return auth.SignupState(u.IsComplete)
	}
	return nil
}

// authenticate checks the password, then the signup state.
func authenticate(u *auth.User, password string, complete bool) error {
	if err := auth.CheckPassword(u, password); err != nil {
		return err
	}
	return requireComplete(u, complete)
}

// identity resolves the grants a token pair is issued with.
func (s *Service) identity(ctx context.Context, userID, sessionID string) (token.Identity, error) {
	g, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return token.Identity{}, err
	}
	return token.Identity{UserID: userID, SessionID: sessionID, Permissions: g.Permissions, Groups: g.Groups}, nil
}
