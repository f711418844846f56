package usecase

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
)

// SetPasswordInput changes the caller's password.
type SetPasswordInput struct {
	Password    string `json:"password"`
	NewPassword string `json:"new_password"`
}

// SetPassword replaces the caller's password and salt after checking the current one.
func (s *Service) SetPassword(ctx context.Context, caller auth.Caller, in SetPasswordInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "SetPassword")
	defer func() { finish(span, err) }()

	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return Message{}, err
	}
	if err := auth.ValidatePassword("new_password", in.NewPassword); err != nil {
		return Message{}, err
	}
	if in.Password == in.NewPassword {
		return Message{}, auth.Equal("password", "new_password")
	}
	u, err := s.userByID(ctx, caller.UserID, "user")
	if err != nil {
		return Message{}, err
	}
	if err := authenticate(u, in.Password, true); err != nil {
		return Message{}, err
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	ops, err := s.managers.SetPassword(rec, u, in.NewPassword)
	if err != nil {
		return Message{}, err
	}
	b.Add(ops...)
	if err := s.submit(ctx, "set_password", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "password updated"}, nil
}

// SetEmailInput starts an email change.
type SetEmailInput struct {
	Password string `json:"password"`
	NewEmail string `json:"new_email"`
}

// SetEmail sends a confirmation code to the new address. The address only
// changes once CompleteSetEmail consumes the code.
func (s *Service) SetEmail(ctx context.Context, caller auth.Caller, in SetEmailInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "SetEmail")
	defer func() { finish(span, err) }()

	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return Message{}, err
	}
	if in.NewEmail, err = auth.NormalizeEmail("new_email", in.NewEmail); err != nil {
		return Message{}, err
	}

	var (
		user    lookup[*auth.User]
		pending lookup[*auth.Challenge]
		owner   lookup[*auth.User]
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, caller.UserID) })
	fetch(eg, &pending, func() (*auth.Challenge, error) {
		return s.store.Challenges(egctx).Find(egctx, caller.UserID, auth.FlowEmail)
	})
	fetch(eg, &owner, func() (*auth.User, error) { return s.store.Users(egctx).FindByEmail(egctx, in.NewEmail) })
	if err := wait(eg); err != nil {
		return Message{}, err
	}

	u, err := need(user, "user")
	if err != nil {
		return Message{}, err
	}
	if err := authenticate(u, in.Password, true); err != nil {
		return Message{}, err
	}
	if err := absent(pending, "random"); err != nil {
		return Message{}, err
	}
	if err := absent(owner, "new_email"); err != nil {
		return Message{}, err
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	c, ops, err := s.challenges.Create(rec, u.ID, auth.FlowEmail, in.NewEmail)
	if err != nil {
		return Message{}, err
	}
	b.Add(ops...)
	if err := s.submit(ctx, "set_email", &b); err != nil {
		return Message{}, err
	}
	s.notifier.SendChallenge(ctx, auth.FlowEmail, in.NewEmail, c.Key)
	return Message{Detail: "random created"}, nil
}

// CompleteSetEmailInput confirms an email change.
type CompleteSetEmailInput struct {
	Code string `json:"random"`
}

// CompleteSetEmail moves the caller to the pending address and consumes the code.
func (s *Service) CompleteSetEmail(ctx context.Context, caller auth.Caller, in CompleteSetEmailInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "CompleteSetEmail")
	defer func() { finish(span, err) }()

	if err := auth.ValidateCode("random", in.Code); err != nil {
		return Message{}, err
	}
	var (
		user    lookup[*auth.User]
		pending lookup[*auth.Challenge]
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, caller.UserID) })
	fetch(eg, &pending, func() (*auth.Challenge, error) {
		return s.store.Challenges(egctx).Find(egctx, caller.UserID, auth.FlowEmail)
	})
	if err := wait(eg); err != nil {
		return Message{}, err
	}
	u, err := need(user, "user")
	if err != nil {
		return Message{}, err
	}
	c, err := need(pending, "random")
	if err != nil {
		return Message{}, err
	}
	if err := s.challenges.Verify(c, in.Code); err != nil {
		return Message{}, err
	}
	// The address may have been taken since the code was sent.
	if other, err := s.store.Users(ctx).FindByEmail(ctx, c.Value); err == nil && other.ID != u.ID {
		return Message{}, auth.AlreadyExists("new_email")
	} else if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return Message{}, found(err, "new_email")
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	b.Add(s.managers.SetEmail(rec, u, c.Value)...)
	b.Add(s.challenges.Delete(rec, u.ID, auth.FlowEmail)...)
	if err := s.submit(ctx, "complete_set_email", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "email updated"}, nil
}

// RegenerateEmailCode replaces an expired email change code and resends it to the pending address.
func (s *Service) RegenerateEmailCode(ctx context.Context, caller auth.Caller) (_ Message, err error) {
	ctx, span := s.start(ctx, "RegenerateEmailCode")
	defer func() { finish(span, err) }()

	u, err := s.userByID(ctx, caller.UserID, "user")
	if err != nil {
		return Message{}, err
	}
	if err := requireComplete(u, true); err != nil {
		return Message{}, err
	}
	return s.regenerateFor(ctx, u, auth.FlowEmail, "")
}

// Logout closes the caller's session.
func (s *Service) Logout(ctx context.Context, caller auth.Caller) (_ Message, err error) {
	ctx, span := s.start(ctx, "Logout")
	defer func() { finish(span, err) }()

	var (
		user    lookup[*auth.User]
		session lookup[*auth.Session]
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, caller.UserID) })
	fetch(eg, &session, func() (*auth.Session, error) {
		return s.store.Sessions(egctx).Find(egctx, caller.UserID, caller.SessionID)
	})
	if err := wait(eg); err != nil {
		return Message{}, err
	}
	u, err := need(user, "user")
	if err != nil {
		return Message{}, err
	}
	if err := requireComplete(u, true); err != nil {
		return Message{}, err
	}
	if _, err := need(session, "session"); err != nil {
		return Message{}, err
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	b.Add(s.managers.DeleteSession(rec, u.ID, caller.SessionID)...)
	if err := s.submit(ctx, "logout", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "logged out"}, nil
}

// UserData returns the caller's profile, direct grants, groups and sessions.
func (s *Service) UserData(ctx context.Context, caller auth.Caller) (_ UserView, err error) {
	ctx, span := s.start(ctx, "UserData")
	defer func() { finish(span, err) }()
	return s.userWithGrants(ctx, caller.UserID, "user")
}

func (s *Service) userWithGrants(ctx context.Context, userID, field string) (UserView, error) {
	var (
		user     lookup[*auth.User]
		perms    []auth.UserPermission
		groups   []auth.UserGroup
		sessions []auth.Session
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, userID) })
	eg.Go(func() error {
		var err error
		perms, err = s.store.Grants(egctx).UserPermissions(egctx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		groups, err = s.store.Grants(egctx).UserGroups(egctx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		sessions, err = s.store.Sessions(egctx).ListByUser(egctx, userID)
		return err
	})
	if err := wait(eg); err != nil {
		return UserView{}, err
	}
	u, err := need(user, field)
	if err != nil {
		return UserView{}, err
	}
	return withGrants(userView(u), perms, groups, sessions), nil
}

// SetUsernameInput changes the caller's username.
type SetUsernameInput struct {
	Password    string `json:"password"`
	NewUsername string `json:"new_username"`
}

// SetUsername renames the caller. Keeping the same name succeeds without a write.
func (s *Service) SetUsername(ctx context.Context, caller auth.Caller, in SetUsernameInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "SetUsername")
	defer func() { finish(span, err) }()

	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return Message{}, err
	}
	if in.NewUsername, err = auth.NormalizeUsername("new_username", in.NewUsername); err != nil {
		return Message{}, err
	}
	u, err := s.userByID(ctx, caller.UserID, "user")
	if err != nil {
		return Message{}, err
	}
	if err := authenticate(u, in.Password, true); err != nil {
		return Message{}, err
	}
	if u.Username == in.NewUsername {
		return Message{Detail: "username updated"}, nil
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	b.Add(s.managers.SetUsername(rec, u, in.NewUsername)...)
	if err := s.submit(ctx, "set_username", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "username updated"}, nil
}
