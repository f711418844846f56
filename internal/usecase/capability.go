package usecase

import (
	"context"
	"errors"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/rbac"
	"authcore.org/internal/token"
)

// CapabilityInput asks whether a token carries the listed groups and permissions.
type CapabilityInput struct {
	AccessToken string   `json:"access_token"`
	Permissions []string `json:"permissions,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// CheckCapability validates an access token and checks the required groups,
// then the required permissions, against the grants it was issued with.
func (s *Service) CheckCapability(ctx context.Context, in CapabilityInput) (_ Capability, err error) {
	ctx, span := s.start(ctx, "CheckCapability")
	defer func() { finish(span, err) }()

	raw := strings.TrimSpace(in.AccessToken)
	if i := strings.Index(raw, "Bearer "); i >= 0 {
		raw = strings.TrimSpace(raw[i+len("Bearer "):])
	}
	if raw == "" {
		return Capability{}, auth.Invalid("access_token", "access_token is required")
	}
	claims, err := s.tokens.Validate(raw, token.KindAccess)
	if err != nil {
		_ = audit.LogEvent(ctx, audit.EventTokenRejected, map[string]any{"kind": token.KindAccess, "reason": string(auth.KindOf(err))})
		return Capability{}, err
	}
	caller := auth.Caller{UserID: claims.UserID, SessionID: claims.SessionID()}
	grants := rbac.Grants{Permissions: claims.Permissions, Groups: claims.Groups}
	if err := rbac.Check(grants, in.Permissions, in.Groups); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			_ = audit.LogEvent(auth.ContextWithCaller(ctx, caller), audit.EventCapabilityDenied, map[string]any{
				"permissions": in.Permissions, "groups": in.Groups,
			})
			return Capability{}, auth.Unauthorized("access_token")
		}
		return Capability{}, err
	}
	return Capability{UserID: caller.UserID, SessionID: caller.SessionID}, nil
}

// Authorize is CheckCapability for this service's own routes. It returns the caller.
func (s *Service) Authorize(ctx context.Context, rawToken string, permissions ...string) (auth.Caller, error) {
	c, err := s.CheckCapability(ctx, CapabilityInput{AccessToken: rawToken, Permissions: permissions})
	if err != nil {
		return auth.Caller{}, err
	}
	return auth.Caller{UserID: c.UserID, SessionID: c.SessionID}, nil
}
