package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"authcore.org/internal/auth"
	"authcore.org/internal/usecase"
)

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// public decodes In, runs fn and answers 200 with its result.
func public[In, Out any](fn func(context.Context, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, r, err)
			return
		}
		out, err := fn(r.Context(), in)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// guarded is public behind a bearer token carrying permission.
func guarded[In, Out any](a *API, permission string, code int, fn func(context.Context, auth.Caller, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := a.authorize(w, r, permission)
		if !ok {
			return
		}
		var in In
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, r, err)
			return
		}
		out, err := fn(r.Context(), caller, in)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, code, out)
	}
}

// bodiless is guarded for routes without a request body.
func bodiless[Out any](a *API, permission string, fn func(context.Context, auth.Caller) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := a.authorize(w, r, permission)
		if !ok {
			return
		}
		out, err := fn(r.Context(), caller)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *API) routeAuth(r *mux.Router) {
	svc := a.svc
	post := func(path string, h http.HandlerFunc) { r.HandleFunc(path, h).Methods(http.MethodPost) }

	post("/signup", public(svc.Signup))
	post("/signup/complete", public(svc.CompleteSignup))
	post("/random/regenerate/signup", public(func(ctx context.Context, in emailRequest) (usecase.Message, error) {
		return svc.RegenerateSignupCode(ctx, in.Email)
	}))
	post("/authenticate", public(svc.Authenticate))
	post("/refresh", public(func(ctx context.Context, in refreshRequest) (usecase.AccessResult, error) {
		return svc.Refresh(ctx, in.RefreshToken)
	}))
	post("/password/forget", public(func(ctx context.Context, in emailRequest) (usecase.Message, error) {
		return svc.ForgetPassword(ctx, in.Email)
	}))
	post("/password/restaure", public(svc.RestorePassword))
	post("/password/restore", public(svc.RestorePassword))
	post("/random/regenerate/password", public(func(ctx context.Context, in emailRequest) (usecase.Message, error) {
		return svc.RegeneratePasswordCode(ctx, in.Email)
	}))

	post("/password/set", guarded(a, auth.PermSetOwnPassword, http.StatusOK, svc.SetPassword))
	post("/email/set", guarded(a, auth.PermSetOwnEmail, http.StatusOK, svc.SetEmail))
	post("/email/set/complete", guarded(a, auth.PermSetOwnEmail, http.StatusOK, svc.CompleteSetEmail))
	post("/random/regenerate/email", bodiless(a, auth.PermSetOwnEmail, svc.RegenerateEmailCode))
	post("/username/set", guarded(a, auth.PermSetOwnUsername, http.StatusOK, svc.SetUsername))
	post("/logout", bodiless(a, auth.PermLogout, svc.Logout))
	r.HandleFunc("/user/data", bodiless(a, auth.PermReadOwnUserData, svc.UserData)).Methods(http.MethodGet)
}

func (a *API) routeIntra(r *mux.Router) {
	r.HandleFunc("/authorization", public(a.svc.CheckCapability)).Methods(http.MethodPost)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
	}).Methods(http.MethodGet)
}
