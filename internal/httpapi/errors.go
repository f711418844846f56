package httpapi

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
)

func statusOf(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindStateConflict, auth.KindChallengeExpired,
		auth.KindChallengeNotYetExpired, auth.KindIncorrect, auth.KindEquals, auth.KindAlreadyExists:
		return http.StatusBadRequest
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindTokenInvalid, auth.KindTokenExpired, auth.KindTokenForbidden, auth.KindProtectedRecord:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders a use-case failure as {"detail": [{loc, msg, type}]}.
// Untyped errors are logged and hidden behind a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var e *auth.Error
	if !errors.As(err, &e) {
		obs.Component("httpapi", "transport").WithError(err).WithFields(logrus.Fields{
			"event":      "request_failed",
			"path":       r.URL.Path,
			"request_id": audit.RequestID(r.Context()),
		}).Error("internal error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	payload := map[string]any{"detail": e.Details()}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, statusOf(e.Kind), payload)
}

// badRequest reports a body that could not be decoded.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	handleError(w, r, auth.Invalid("body", err.Error()))
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"detail": []auth.Detail{{Loc: []string{}, Msg: msg, Type: http.StatusText(code)}},
	}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
