package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/manager"
	"authcore.org/internal/outbox"
)

// CreateUserInput is an admin-created account.
type CreateUserInput struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	IsComplete bool   `json:"is_complete"`
}

// CreateUser adds an account. Incomplete accounts get a signup code like a self signup.
func (s *Service) CreateUser(ctx context.Context, caller auth.Caller, in CreateUserInput) (_ Created, err error) {
	ctx, span := s.start(ctx, "CreateUser")
	defer func() { finish(span, err) }()

	signup := SignupInput{Email: in.Email, Username: in.Username, Password: in.Password}
	if err := signup.normalize(); err != nil {
		return Created{}, err
	}
	if err := s.emailUnused(ctx, signup.Email); err != nil {
		return Created{}, err
	}

	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	u, ops, err := s.managers.CreateUser(rec, manager.NewUserInput{
		Email: signup.Email, Username: signup.Username, Password: signup.Password, IsComplete: in.IsComplete,
	})
	if err != nil {
		return Created{}, err
	}
	b.Add(ops...)
	var code string
	if !u.IsComplete {
		c, ops, err := s.challenges.Create(rec, u.ID, auth.FlowSignup, "")
		if err != nil {
			return Created{}, err
		}
		b.Add(ops...)
		code = c.Key
	}
	if err := s.submit(ctx, "admin_create_user", &b); err != nil {
		return Created{}, err
	}
	if code != "" {
		s.notifier.SendChallenge(ctx, auth.FlowSignup, u.Email, code)
	}
	return Created{ID: u.ID}, nil
}

// GetUser returns a user with its grants and sessions.
func (s *Service) GetUser(ctx context.Context, id string) (_ UserView, err error) {
	ctx, span := s.start(ctx, "GetUser")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return UserView{}, err
	}
	return s.userWithGrants(ctx, id, "id")
}

// ListUsers pages through users in creation order.
func (s *Service) ListUsers(ctx context.Context, skip, limit int) (_ []UserView, err error) {
	ctx, span := s.start(ctx, "ListUsers")
	defer func() { finish(span, err) }()

	if skip, limit, err = auth.Page(skip, limit); err != nil {
		return nil, err
	}
	users, err := s.store.Users(ctx).List(ctx, skip, limit)
	if err != nil {
		return nil, found(err, "users")
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	return out, nil
}

// UpdateUserInput is a partial user update. Nil fields are left alone.
type UpdateUserInput struct {
	ID         string  `json:"-"`
	Username   *string `json:"username,omitempty"`
	IsComplete *bool   `json:"is_complete,omitempty"`
}

// UpdateUser changes username and completion. Completing a user drops its signup code.
func (s *Service) UpdateUser(ctx context.Context, caller auth.Caller, in UpdateUserInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "UpdateUser")
	defer func() { finish(span, err) }()

	if in.ID, err = auth.RequireID("id", in.ID); err != nil {
		return Message{}, err
	}
	if in.Username == nil && in.IsComplete == nil {
		return Message{}, auth.Invalid("body", "at least one field is required")
	}
	if in.Username != nil {
		name, err := auth.NormalizeUsername("username", *in.Username)
		if err != nil {
			return Message{}, err
		}
		in.Username = &name
	}
	u, err := s.userByID(ctx, in.ID, "id")
	if err != nil {
		return Message{}, err
	}

	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	if in.Username != nil && *in.Username != u.Username {
		b.Add(s.managers.SetUsername(rec, u, *in.Username)...)
	}
	if in.IsComplete != nil && *in.IsComplete != u.IsComplete {
		wasIncomplete := !u.IsComplete
		b.Add(s.managers.SetComplete(rec, u, *in.IsComplete)...)
		if wasIncomplete {
			b.Add(s.challenges.Delete(rec, u.ID, auth.FlowSignup)...)
		}
	}
	if b.Len() == 0 {
		return Message{Detail: "user updated"}, nil
	}
	if err := s.submit(ctx, "admin_update_user", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "user updated"}, nil
}

// DeleteUser removes a user with every association, session and challenge.
func (s *Service) DeleteUser(ctx context.Context, caller auth.Caller, id string) (_ Message, err error) {
	ctx, span := s.start(ctx, "DeleteUser")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return Message{}, err
	}
	if _, err := s.userByID(ctx, id, "id"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.DeleteUser(rec, id)...)
	if err := s.submit(ctx, "admin_delete_user", &b); err != nil {
		return Message{}, err
	}
	_ = audit.LogEvent(auth.ContextWithCaller(ctx, caller), audit.EventAdminDeleted, map[string]any{"table": outbox.TableUsers, "id": id})
	return Message{Detail: "user deleted"}, nil
}

// RemoveSessionsInput closes one session, or every session of the user when SessionID is empty.
type RemoveSessionsInput struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// RemoveSessions closes sessions of any user.
func (s *Service) RemoveSessions(ctx context.Context, caller auth.Caller, in RemoveSessionsInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "RemoveSessions")
	defer func() { finish(span, err) }()

	if in.UserID, err = auth.RequireID("user_id", in.UserID); err != nil {
		return Message{}, err
	}
	var (
		user    lookup[*auth.User]
		session lookup[*auth.Session]
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, in.UserID) })
	if in.SessionID != "" {
		fetch(eg, &session, func() (*auth.Session, error) {
			return s.store.Sessions(egctx).Find(egctx, in.UserID, in.SessionID)
		})
	}
	if err := wait(eg); err != nil {
		return Message{}, err
	}
	if _, err := need(user, "user_id"); err != nil {
		return Message{}, err
	}

	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	if in.SessionID != "" {
		if _, err := need(session, "session"); err != nil {
			return Message{}, err
		}
		b.Add(s.managers.DeleteSession(rec, in.UserID, in.SessionID)...)
	} else {
		b.Add(s.managers.DeleteSessions(rec, in.UserID)...)
	}
	if err := s.submit(ctx, "admin_remove_sessions", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "sessions removed"}, nil
}
