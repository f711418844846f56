// Package token issues, validates and refreshes the bearer credentials.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
)

const (
	defaultAccessTTL  = 20 * time.Minute
	defaultRefreshTTL = 50 * time.Minute
)

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TypeBearer is the token_type of every issued pair.
const TypeBearer = "bearer"

// Claims is the signed payload. Subject carries the session id.
type Claims struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	Groups      []string `json:"groups"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// SessionID returns the session the token belongs to.
func (c *Claims) SessionID() string { return c.Subject }

// Identity is what a token pair is issued for.
type Identity struct {
	UserID      string
	SessionID   string
	Permissions []string
	Groups      []string
}

// Pair is the response of a successful login.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Service signs and seals tokens.
type Service struct {
	now        func() time.Time
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	envelope   *Envelope
}

// Option configures Service behavior.
type Option func(*Service) error

// WithHMACSecret signs with HS256.
func WithHMACSecret(secret string) Option {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("token: hmac secret is required")
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = []byte(secret)
		s.verifyKey = []byte(secret)
		return nil
	}
}

// WithRS256Keys configures RSA keys used for signing and verifying.
func WithRS256Keys(privatePEM, publicPEM string) Option {
	return func(s *Service) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if privatePEM == "" || publicPEM == "" {
			return errors.New("token: both private and public keys are required")
		}
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return fmt.Errorf("token: parse private key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("token: parse public key: %w", err)
		}
		s.method = jwt.SigningMethodRS256
		s.signKey = priv
		s.verifyKey = pub
		return nil
	}
}

// WithIssuer sets the iss claim and requires it on validation.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. A signing option is required.
func NewService(envelopeKey []byte, opts ...Option) (*Service, error) {
	env, err := NewEnvelope(envelopeKey)
	if err != nil {
		return nil, err
	}
	s := &Service{
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		envelope:   env,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.method == nil {
		return nil, errors.New("token: signing key is not configured")
	}
	return s, nil
}

// AccessTTL reports the configured access lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// NextExpiry is the end of the refresh window of a session opened now.
func (s *Service) NextExpiry() time.Time {
	return s.now().Add(s.accessTTL + s.refreshTTL).UTC()
}

// Issue signs an access token and a refresh token for id.
func (s *Service) Issue(id Identity) (Pair, error) {
	if id.UserID == "" || id.SessionID == "" {
		return Pair{}, errors.New("token: user and session are required")
	}
	now := s.now()
	base := Claims{
		UserID:      id.UserID,
		Permissions: nonNil(id.Permissions),
		Groups:      nonNil(id.Groups),
	}
	base.Subject = id.SessionID
	base.Issuer = s.issuer

	access, err := s.mint(base, KindAccess, now, s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.mint(base, KindRefresh, now, s.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh, TokenType: TypeBearer}, nil
}

// Refresh issues a new access token from validated refresh claims.
func (s *Service) Refresh(c *Claims) (string, error) {
	if c == nil || c.TokenType != KindRefresh {
		return "", auth.TokenForbidden(fieldName(KindRefresh))
	}
	base := Claims{UserID: c.UserID, Permissions: nonNil(c.Permissions), Groups: nonNil(c.Groups)}
	base.Subject = c.Subject
	base.Issuer = s.issuer
	return s.mint(base, KindAccess, s.now(), s.accessTTL)
}

func (s *Service) mint(c Claims, kind string, now time.Time, ttl time.Duration) (string, error) {
	c.TokenType = kind
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	signed, err := jwt.NewWithClaims(s.method, c).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	obs.ObserveTokenIssued(kind)
	return s.envelope.Seal(kind, []byte(signed)), nil
}

// Validate opens, verifies and checks a token of the given kind.
func (s *Service) Validate(raw, kind string) (*Claims, error) {
	c, err := s.validate(raw, kind)
	result := "ok"
	if err != nil {
		result = string(auth.KindOf(err))
	}
	obs.ObserveTokenValidated(kind, result)
	return c, err
}

func (s *Service) validate(raw, kind string) (*Claims, error) {
	name := fieldName(kind)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, auth.TokenInvalid(name)
	}
	signed, err := s.envelope.Open(kind, raw)
	if err != nil {
		return nil, auth.TokenInvalid(name)
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		popts = append(popts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.NewParser(popts...).ParseWithClaims(string(signed), claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth.TokenExpired(name)
		}
		return nil, auth.TokenInvalid(name)
	}
	if !parsed.Valid || claims.UserID == "" || claims.Subject == "" {
		return nil, auth.TokenInvalid(name)
	}
	if claims.TokenType != kind {
		return nil, auth.TokenForbidden(name)
	}
	return claims, nil
}

func fieldName(kind string) string {
	return kind + "_token"
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
