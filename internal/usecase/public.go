package usecase

import (
	"context"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/manager"
	"authcore.org/internal/outbox"
	"authcore.org/internal/token"
)

// SignupInput registers a new account.
type SignupInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (in *SignupInput) normalize() error {
	var err error
	if in.Email, err = auth.NormalizeEmail("email", in.Email); err != nil {
		return err
	}
	if in.Username, err = auth.NormalizeUsername("username", in.Username); err != nil {
		return err
	}
	return auth.ValidatePassword("password", in.Password)
}

// Signup creates an incomplete user in the default group and sends the signup code.
func (s *Service) Signup(ctx context.Context, in SignupInput) (_ SignupResult, err error) {
	ctx, span := s.start(ctx, "Signup")
	defer func() { finish(span, err) }()

	if err := in.normalize(); err != nil {
		return SignupResult{}, err
	}
	if err := s.emailUnused(ctx, in.Email); err != nil {
		return SignupResult{}, err
	}

	rec := s.recorder("")
	var b outbox.Batch
	u, ops, err := s.managers.CreateUser(rec, manager.NewUserInput{
		Email: in.Email, Username: in.Username, Password: in.Password,
	})
	if err != nil {
		return SignupResult{}, err
	}
	b.Add(ops...)
	c, ops, err := s.challenges.Create(rec, u.ID, auth.FlowSignup, "")
	if err != nil {
		return SignupResult{}, err
	}
	b.Add(ops...)
	_, ops = s.managers.AddUserToGroup(rec, u.ID, auth.DefaultGroup)
	b.Add(ops...)

	if err := s.submit(ctx, "signup", &b); err != nil {
		return SignupResult{}, err
	}
	s.notifier.SendChallenge(ctx, auth.FlowSignup, u.Email, c.Key)
	return SignupResult{ID: u.ID, Email: u.Email}, nil
}

// CompleteSignupInput confirms a signup with its code.
type CompleteSignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"random"`
}

// CompleteSignup marks the user complete, consumes the code and logs the user in.
func (s *Service) CompleteSignup(ctx context.Context, in CompleteSignupInput) (_ token.Pair, err error) {
	ctx, span := s.start(ctx, "CompleteSignup")
	defer func() { finish(span, err) }()

	if in.Email, err = auth.NormalizeEmail("email", in.Email); err != nil {
		return token.Pair{}, err
	}
	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return token.Pair{}, err
	}
	if err := auth.ValidateCode("random", in.Code); err != nil {
		return token.Pair{}, err
	}

	u, err := s.userByEmail(ctx, in.Email)
	if err != nil {
		return token.Pair{}, err
	}
	c, err := s.challenges.Get(ctx, u.ID, auth.FlowSignup)
	if err != nil {
		return token.Pair{}, err
	}
	if err := s.challenges.Verify(c, in.Code); err != nil {
		return token.Pair{}, err
	}
	if err := authenticate(u, in.Password, false); err != nil {
		return token.Pair{}, err
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	b.Add(s.managers.SetComplete(rec, u, true)...)
	b.Add(s.challenges.Delete(rec, u.ID, auth.FlowSignup)...)
	return s.login(ctx, "complete_signup", rec, &b, u)
}

// login opens a session on top of b, submits it and issues the token pair.
func (s *Service) login(ctx context.Context, op string, rec *outbox.Recorder, b *outbox.Batch, u *auth.User) (token.Pair, error) {
	session, ops := s.managers.CreateSession(rec, u.ID, s.tokens.NextExpiry())
	b.Add(ops...)
	id, err := s.identity(ctx, u.ID, session.SessionID)
	if err != nil {
		return token.Pair{}, err
	}
	pair, err := s.tokens.Issue(id)
	if err != nil {
		return token.Pair{}, err
	}
	if err := s.submit(ctx, op, b); err != nil {
		return token.Pair{}, err
	}
	_ = audit.LogEvent(auth.ContextWithCaller(ctx, auth.Caller{UserID: u.ID, SessionID: session.SessionID}),
		audit.EventLoginSucceeded, map[string]any{"operation": op})
	return pair, nil
}

// RegenerateSignupCode replaces an expired signup code.
func (s *Service) RegenerateSignupCode(ctx context.Context, email string) (_ Message, err error) {
	ctx, span := s.start(ctx, "RegenerateSignupCode")
	defer func() { finish(span, err) }()
	return s.regenerate(ctx, email, auth.FlowSignup, false)
}

// RegeneratePasswordCode replaces an expired password restore code.
func (s *Service) RegeneratePasswordCode(ctx context.Context, email string) (_ Message, err error) {
	ctx, span := s.start(ctx, "RegeneratePasswordCode")
	defer func() { finish(span, err) }()
	return s.regenerate(ctx, email, auth.FlowPassword, true)
}

func (s *Service) regenerate(ctx context.Context, email, flow string, complete bool) (Message, error) {
	email, err := auth.NormalizeEmail("email", email)
	if err != nil {
		return Message{}, err
	}
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return Message{}, err
	}
	if err := requireComplete(u, complete); err != nil {
		return Message{}, err
	}
	return s.regenerateFor(ctx, u, flow, u.Email)
}

// regenerateFor issues a new code for the challenge of u in flow and sends it
// to destination, or to the pending value when destination is empty.
func (s *Service) regenerateFor(ctx context.Context, u *auth.User, flow, destination string) (Message, error) {
	c, err := s.challenges.Get(ctx, u.ID, flow)
	if err != nil {
		return Message{}, err
	}
	if err := s.challenges.EnsureExpired(c); err != nil {
		return Message{}, err
	}
	rec := s.recorder(u.ID)
	var b outbox.Batch
	updated, ops, err := s.challenges.Regenerate(rec, *c)
	if err != nil {
		return Message{}, err
	}
	b.Add(ops...)
	if err := s.submit(ctx, "regenerate_"+flow+"_code", &b); err != nil {
		return Message{}, err
	}
	if destination == "" {
		destination = updated.Value
	}
	s.notifier.SendChallenge(ctx, flow, destination, updated.Key)
	return Message{Detail: "random regenerated"}, nil
}

// AuthenticateInput is a password login.
type AuthenticateInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Authenticate checks the credentials of a complete user and opens a session.
func (s *Service) Authenticate(ctx context.Context, in AuthenticateInput) (_ token.Pair, err error) {
	ctx, span := s.start(ctx, "Authenticate")
	defer func() { finish(span, err) }()

	if in.Email, err = auth.NormalizeEmail("email", in.Email); err != nil {
		return token.Pair{}, err
	}
	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return token.Pair{}, err
	}
	u, err := s.userByEmail(ctx, in.Email)
	if err != nil {
		return token.Pair{}, err
	}
	if err := authenticate(u, in.Password, true); err != nil {
		_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{"user_id": u.ID, "reason": string(auth.KindOf(err))})
		return token.Pair{}, err
	}
	rec := s.recorder(u.ID)
	var b outbox.Batch
	return s.login(ctx, "authenticate", rec, &b, u)
}

// Refresh issues a new access token for a live session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (_ AccessResult, err error) {
	ctx, span := s.start(ctx, "Refresh")
	defer func() { finish(span, err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return AccessResult{}, auth.Invalid("refresh_token", "refresh_token is required")
	}
	claims, err := s.tokens.Validate(refreshToken, token.KindRefresh)
	if err != nil {
		_ = audit.LogEvent(ctx, audit.EventTokenRejected, map[string]any{"kind": token.KindRefresh, "reason": string(auth.KindOf(err))})
		return AccessResult{}, err
	}
	if _, err := s.store.Sessions(ctx).Find(ctx, claims.UserID, claims.SessionID()); err != nil {
		return AccessResult{}, found(err, "session")
	}
	access, err := s.tokens.Refresh(claims)
	if err != nil {
		return AccessResult{}, err
	}
	return AccessResult{AccessToken: access, TokenType: token.TypeBearer}, nil
}

// ForgetPassword starts a password restore for a complete user.
func (s *Service) ForgetPassword(ctx context.Context, email string) (_ Message, err error) {
	ctx, span := s.start(ctx, "ForgetPassword")
	defer func() { finish(span, err) }()

	if email, err = auth.NormalizeEmail("email", email); err != nil {
		return Message{}, err
	}
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return Message{}, err
	}
	if err := requireComplete(u, true); err != nil {
		return Message{}, err
	}
	if err := s.challenges.EnsureAbsent(ctx, u.ID, auth.FlowPassword); err != nil {
		return Message{}, err
	}
	rec := s.recorder(u.ID)
	var b outbox.Batch
	c, ops, err := s.challenges.Create(rec, u.ID, auth.FlowPassword, "")
	if err != nil {
		return Message{}, err
	}
	b.Add(ops...)
	if err := s.submit(ctx, "forget_password", &b); err != nil {
		return Message{}, err
	}
	s.notifier.SendChallenge(ctx, auth.FlowPassword, u.Email, c.Key)
	return Message{Detail: "random created"}, nil
}

// RestorePasswordInput sets a new password with a restore code.
type RestorePasswordInput struct {
	Email       string `json:"email"`
	Code        string `json:"random"`
	NewPassword string `json:"new_password"`
}

// RestorePassword consumes the restore code and sets a new password and salt.
func (s *Service) RestorePassword(ctx context.Context, in RestorePasswordInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "RestorePassword")
	defer func() { finish(span, err) }()

	if in.Email, err = auth.NormalizeEmail("email", in.Email); err != nil {
		return Message{}, err
	}
	if err := auth.ValidateCode("random", in.Code); err != nil {
		return Message{}, err
	}
	if err := auth.ValidatePassword("new_password", in.NewPassword); err != nil {
		return Message{}, err
	}

	u, err := s.userByEmail(ctx, in.Email)
	if err != nil {
		return Message{}, err
	}
	if err := requireComplete(u, true); err != nil {
		return Message{}, err
	}
	c, err := s.challenges.Get(ctx, u.ID, auth.FlowPassword)
	if err != nil {
		return Message{}, err
	}
	if err := s.challenges.Verify(c, in.Code); err != nil {
		return Message{}, err
	}

	rec := s.recorder(u.ID)
	var b outbox.Batch
	ops, err := s.managers.SetPassword(rec, u, in.NewPassword)
	if err != nil {
		return Message{}, err
	}
	b.Add(ops...)
	b.Add(s.challenges.Delete(rec, u.ID, auth.FlowPassword)...)
	if err := s.submit(ctx, "restore_password", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "password restored"}, nil
}
