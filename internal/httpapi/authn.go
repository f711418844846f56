package httpapi

import (
	"net/http"
	"strings"

	"authcore.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authorize validates the bearer token and requires permissions. On failure
// the error is written and ok is false.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, permissions ...string) (auth.Caller, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		handleError(w, r, err)
		return auth.Caller{}, false
	}
	caller, err := a.svc.Authorize(r.Context(), token, permissions...)
	if err != nil {
		handleError(w, r, err)
		return auth.Caller{}, false
	}
	return caller, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", &auth.Error{Kind: auth.KindUnauthorized, Fields: []string{"authorization"}, Msg: "missing bearer token"}
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", &auth.Error{Kind: auth.KindUnauthorized, Fields: []string{"authorization"}, Msg: "invalid authorization scheme"}
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", &auth.Error{Kind: auth.KindUnauthorized, Fields: []string{"authorization"}, Msg: "missing bearer token"}
	}
	return token, nil
}
