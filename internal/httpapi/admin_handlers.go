package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"authcore.org/internal/auth"
	"authcore.org/internal/usecase"
)

type nameRequest struct {
	ID string `json:"id"`
}

// pageParams reads skip (default 0) and limit (default 100) from the query.
func pageParams(r *http.Request) (skip, limit int, err error) {
	skip, err = queryInt(r, "skip", 0, 0)
	if err != nil {
		return 0, 0, err
	}
	limit, err = queryInt(r, "limit", 100, 1)
	if err != nil {
		return 0, 0, err
	}
	return skip, limit, nil
}

func queryInt(r *http.Request, name string, def, min int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, auth.Invalid(name, name+" must be an integer")
	}
	if val < min {
		return 0, auth.Invalid(name, name+" must be greater than or equal to "+strconv.Itoa(min))
	}
	return val, nil
}

// listed serves a paged collection.
func listed[Out any](a *API, permission string, fn func(context.Context, int, int) ([]Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.authorize(w, r, permission); !ok {
			return
		}
		skip, limit, err := pageParams(r)
		if err != nil {
			handleError(w, r, err)
			return
		}
		out, err := fn(r.Context(), skip, limit)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// byID serves a route addressed by the {id} path variable.
func byID[Out any](a *API, permission string, fn func(context.Context, auth.Caller, string) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := a.authorize(w, r, permission)
		if !ok {
			return
		}
		out, err := fn(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func reader[Out any](fn func(context.Context, string) (Out, error)) func(context.Context, auth.Caller, string) (Out, error) {
	return func(ctx context.Context, _ auth.Caller, id string) (Out, error) { return fn(ctx, id) }
}

func (a *API) routeAdmin(r *mux.Router) {
	svc := a.svc

	r.HandleFunc("/users", guarded(a, auth.PermCreateUser, http.StatusCreated, svc.CreateUser)).Methods(http.MethodPost)
	r.HandleFunc("/users", listed(a, auth.PermReadUser, svc.ListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", byID(a, auth.PermReadUser, reader(svc.GetUser))).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", a.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", byID(a, auth.PermDeleteUser, svc.DeleteUser)).Methods(http.MethodDelete)

	r.HandleFunc("/permissions", guarded(a, auth.PermCreatePermission, http.StatusCreated,
		func(ctx context.Context, c auth.Caller, in nameRequest) (usecase.Created, error) {
			return svc.CreatePermission(ctx, c, in.ID)
		})).Methods(http.MethodPost)
	r.HandleFunc("/permissions", listed(a, auth.PermReadPermission, svc.ListPermissions)).Methods(http.MethodGet)
	r.HandleFunc("/permissions/{id}", byID(a, auth.PermReadPermission, reader(svc.GetPermission))).Methods(http.MethodGet)
	r.HandleFunc("/permissions/{id}", byID(a, auth.PermDeletePermission, svc.DeletePermission)).Methods(http.MethodDelete)

	r.HandleFunc("/groups", guarded(a, auth.PermCreateGroup, http.StatusCreated,
		func(ctx context.Context, c auth.Caller, in nameRequest) (usecase.Created, error) {
			return svc.CreateGroup(ctx, c, in.ID)
		})).Methods(http.MethodPost)
	r.HandleFunc("/groups", listed(a, auth.PermReadGroup, svc.ListGroups)).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", byID(a, auth.PermReadGroup, reader(svc.GetGroup))).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", byID(a, auth.PermDeleteGroup, svc.DeleteGroup)).Methods(http.MethodDelete)

	r.HandleFunc("/grant/permission/user", guarded(a, auth.PermGrantPermission, http.StatusOK, svc.GrantPermissionToUser)).Methods(http.MethodPost)
	r.HandleFunc("/grant/permission/user", guarded(a, auth.PermRemovePermission, http.StatusOK, svc.RevokePermissionFromUser)).Methods(http.MethodDelete)
	r.HandleFunc("/grant/permission/group", guarded(a, auth.PermGrantPermission, http.StatusOK, svc.GrantPermissionToGroup)).Methods(http.MethodPost)
	r.HandleFunc("/grant/permission/group", guarded(a, auth.PermRemovePermission, http.StatusOK, svc.RevokePermissionFromGroup)).Methods(http.MethodDelete)
	r.HandleFunc("/grant/group/user", guarded(a, auth.PermAddUserToGroup, http.StatusOK, svc.AddUserToGroup)).Methods(http.MethodPost)
	r.HandleFunc("/grant/group/user", guarded(a, auth.PermRemoveUserFromGroup, http.StatusOK, svc.RemoveUserFromGroup)).Methods(http.MethodDelete)

	r.HandleFunc("/sessions", guarded(a, auth.PermDeleteSession, http.StatusOK, svc.RemoveSessions)).Methods(http.MethodDelete)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.authorize(w, r, auth.PermUpdateUser)
	if !ok {
		return
	}
	var in usecase.UpdateUserInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	in.ID = mux.Vars(r)["id"]
	out, err := a.svc.UpdateUser(r.Context(), caller, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
