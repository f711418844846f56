package token

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authcore.org/internal/auth"
)

var envKey = bytes.Repeat([]byte{7}, KeySize)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T, opts ...Option) (*Service, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	all := append([]Option{WithHMACSecret("test-secret"), WithIssuer("authcore"), WithClock(clk.now)}, opts...)
	svc, err := NewService(envKey, all...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clk
}

var identity = Identity{UserID: "u1", SessionID: "s1", Permissions: []string{"logout"}, Groups: []string{"normal"}}

func TestIssueAndValidate(t *testing.T) {
	svc, _ := newService(t)
	pair, err := svc.Issue(identity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.TokenType != TypeBearer || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("unexpected pair %+v", pair)
	}
	c, err := svc.Validate(pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("Validate access: %v", err)
	}
	if c.UserID != "u1" || c.SessionID() != "s1" || c.TokenType != KindAccess || c.Issuer != "authcore" {
		t.Fatalf("unexpected claims %+v", c)
	}
	if !slices.Equal(c.Permissions, []string{"logout"}) || !slices.Equal(c.Groups, []string{"normal"}) {
		t.Fatalf("grants not preserved: %+v", c)
	}
	r, err := svc.Validate(pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("Validate refresh: %v", err)
	}
	if !r.ExpiresAt.Time.Equal(c.IssuedAt.Time.Add(defaultRefreshTTL)) {
		t.Fatalf("unexpected refresh expiry %v", r.ExpiresAt)
	}
}

func TestCrossKindRejected(t *testing.T) {
	svc, _ := newService(t)
	pair, _ := svc.Issue(identity)
	if _, err := svc.Validate(pair.AccessToken, KindRefresh); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("access as refresh: expected TokenInvalid, got %v", err)
	}
	if _, err := svc.Validate(pair.RefreshToken, KindAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("refresh as access: expected TokenInvalid, got %v", err)
	}
}

func TestClaimTypeMismatchForbidden(t *testing.T) {
	svc, clk := newService(t)
	c := Claims{UserID: "u1", TokenType: KindAccess}
	c.Subject = "s1"
	c.Issuer = "authcore"
	c.IssuedAt = jwt.NewNumericDate(clk.t)
	c.ExpiresAt = jwt.NewNumericDate(clk.t.Add(time.Minute))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sealed := svc.envelope.Seal(KindRefresh, []byte(signed))
	if _, err := svc.Validate(sealed, KindRefresh); !errors.Is(err, auth.ErrTokenForbidden) {
		t.Fatalf("expected TokenForbidden, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	svc, clk := newService(t, WithAccessTTL(time.Minute))
	pair, _ := svc.Issue(identity)
	clk.t = clk.t.Add(2 * time.Minute)
	if _, err := svc.Validate(pair.AccessToken, KindAccess); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}
	if _, err := svc.Validate(pair.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("refresh must still be valid: %v", err)
	}
}

func TestTamperedAndForeignTokens(t *testing.T) {
	svc, _ := newService(t)
	pair, _ := svc.Issue(identity)
	b := []byte(pair.AccessToken)
	if b[10] == 'A' {
		b[10] = 'B'
	} else {
		b[10] = 'A'
	}
	tampered := string(b)
	for _, raw := range []string{"", "not-a-token", tampered} {
		if _, err := svc.Validate(raw, KindAccess); !errors.Is(err, auth.ErrTokenInvalid) {
			t.Fatalf("%q: expected TokenInvalid, got %v", raw, err)
		}
	}
	other, err := NewService(bytes.Repeat([]byte{9}, KeySize), WithHMACSecret("test-secret"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.Validate(pair.AccessToken, KindAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("foreign envelope key: expected TokenInvalid, got %v", err)
	}
	wrongSecret, _ := NewService(envKey, WithHMACSecret("other-secret"), WithIssuer("authcore"))
	if _, err := wrongSecret.Validate(pair.AccessToken, KindAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("foreign signing key: expected TokenInvalid, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	svc, clk := newService(t)
	pair, _ := svc.Issue(identity)
	rc, err := svc.Validate(pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	clk.t = clk.t.Add(30 * time.Minute)
	access, err := svc.Refresh(rc)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c, err := svc.Validate(access, KindAccess)
	if err != nil {
		t.Fatalf("Validate refreshed: %v", err)
	}
	if !c.IssuedAt.Time.Equal(clk.t) || c.SessionID() != "s1" {
		t.Fatalf("unexpected refreshed claims %+v", c)
	}
	ac, _ := svc.Validate(access, KindAccess)
	if _, err := svc.Refresh(ac); !errors.Is(err, auth.ErrTokenForbidden) {
		t.Fatalf("refresh from access claims: expected TokenForbidden, got %v", err)
	}
}

func TestEnvelopeDeterministicPerKind(t *testing.T) {
	env, err := NewEnvelope(envKey)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	a := env.Seal(KindAccess, []byte("payload"))
	if a != env.Seal(KindAccess, []byte("payload")) {
		t.Fatalf("expected deterministic sealing")
	}
	if a == env.Seal(KindRefresh, []byte("payload")) {
		t.Fatalf("kinds must not share output")
	}
	pt, err := env.Open(KindAccess, a)
	if err != nil || string(pt) != "payload" {
		t.Fatalf("Open: %q %v", pt, err)
	}
	if _, err := NewEnvelope([]byte("short")); err == nil {
		t.Fatalf("expected key size error")
	}
}

func TestRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	svc, err := NewService(envKey, WithRS256Keys(string(privPEM), string(pubPEM)))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	pair, err := svc.Issue(identity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Validate(pair.AccessToken, KindAccess); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	hs, _ := NewService(envKey, WithHMACSecret("test-secret"))
	if _, err := hs.Validate(pair.AccessToken, KindAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("algorithm confusion: expected TokenInvalid, got %v", err)
	}
}

func TestNewServiceRequiresSigner(t *testing.T) {
	if _, err := NewService(envKey); err == nil {
		t.Fatalf("expected missing signer error")
	}
	svc, clk := newService(t)
	if got := svc.NextExpiry(); !got.Equal(clk.t.Add(defaultAccessTTL + defaultRefreshTTL)) {
		t.Fatalf("unexpected next expiry %v", got)
	}
}
