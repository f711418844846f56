package auth

import (
	"errors"
	"strings"
)

// Kind classifies a terminal, caller-facing failure.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindAlreadyExists          Kind = "exist"
	KindUnauthorized           Kind = "unauthorized"
	KindTokenInvalid           Kind = "invalid"
	KindTokenExpired           Kind = "expired"
	KindTokenForbidden         Kind = "forbidden"
	KindStateConflict          Kind = "state"
	KindChallengeExpired       Kind = "challenge_expired"
	KindChallengeNotYetExpired Kind = "not_expired"
	KindProtectedRecord        Kind = "original"
	KindIncorrect              Kind = "incorrect"
	KindEquals                 Kind = "equals"
)

// Error is the typed failure returned by stores, the token service and use cases.
// Fields holds the input paths the failure refers to.
type Error struct {
	Kind   Kind
	Fields []string
	Msg    string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("auth: ")
	b.WriteString(string(e.Kind))
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ","))
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is
// regardless of the fields attached.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Detail is one field-level entry of an error response.
type Detail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Details renders the error the way clients receive it.
func (e *Error) Details() []Detail {
	loc := e.Fields
	if len(loc) == 0 {
		loc = []string{}
	}
	return []Detail{{Loc: loc, Msg: e.Msg, Type: string(e.Kind)}}
}

var (
	ErrValidation             = &Error{Kind: KindValidation, Msg: "invalid input"}
	ErrNotFound               = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrAlreadyExists          = &Error{Kind: KindAlreadyExists, Msg: "already exists"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Msg: "Unauthorized"}
	ErrTokenInvalid           = &Error{Kind: KindTokenInvalid, Msg: "token is invalid"}
	ErrTokenExpired           = &Error{Kind: KindTokenExpired, Msg: "token expired"}
	ErrTokenForbidden         = &Error{Kind: KindTokenForbidden, Msg: "token type not allowed"}
	ErrStateConflict          = &Error{Kind: KindStateConflict, Msg: "state conflict"}
	ErrChallengeExpired       = &Error{Kind: KindChallengeExpired, Msg: "random expired"}
	ErrChallengeNotYetExpired = &Error{Kind: KindChallengeNotYetExpired, Msg: "random is not expired"}
	ErrProtectedRecord        = &Error{Kind: KindProtectedRecord, Msg: "record can't be deleted"}
	ErrIncorrect              = &Error{Kind: KindIncorrect, Msg: "incorrect value"}
	ErrEquals                 = &Error{Kind: KindEquals, Msg: "values are equal"}
)

// Invalid reports malformed input for field.
func Invalid(field, msg string) error {
	return &Error{Kind: KindValidation, Fields: []string{field}, Msg: msg}
}

// NotFound reports a missing entity addressed by field.
func NotFound(field string) error {
	return &Error{Kind: KindNotFound, Fields: []string{field}, Msg: field + " not found"}
}

// AlreadyExists reports a uniqueness conflict on field.
func AlreadyExists(field string) error {
	return &Error{Kind: KindAlreadyExists, Fields: []string{field}, Msg: field + " already exists"}
}

// Unauthorized reports a missing or insufficient capability.
func Unauthorized(field string) error {
	return &Error{Kind: KindUnauthorized, Fields: []string{field}, Msg: "Unauthorized"}
}

// TokenInvalid reports a token that failed structural or cryptographic checks.
func TokenInvalid(name string) error {
	return &Error{Kind: KindTokenInvalid, Fields: []string{name}, Msg: "The " + name + " is invalid"}
}

// TokenExpired reports a token past its exp claim.
func TokenExpired(name string) error {
	return &Error{Kind: KindTokenExpired, Fields: []string{name}, Msg: name + " expired"}
}

// TokenForbidden reports a well-formed token of the wrong kind.
func TokenForbidden(name string) error {
	return &Error{Kind: KindTokenForbidden, Fields: []string{name}, Msg: "Forbidden, invalid " + name}
}

// SignupState reports that the signup completion state is not the one the flow needs.
// complete is the state the user is currently in.
func SignupState(complete bool) error {
	msg := "The user has not completed the signup"
	if complete {
		msg = "The user already completed the signup"
	}
	return &Error{Kind: KindStateConflict, Fields: []string{"signup"}, Msg: msg}
}

// ChallengeExpired reports a challenge that can no longer be consumed.
func ChallengeExpired() error {
	return &Error{Kind: KindChallengeExpired, Fields: []string{"random"}, Msg: "random expired"}
}

// ChallengeNotYetExpired reports a regeneration attempt on a live challenge.
func ChallengeNotYetExpired() error {
	return &Error{Kind: KindChallengeNotYetExpired, Fields: []string{"random"}, Msg: "random is not expired"}
}

// Protected reports an attempt to delete an original record.
func Protected(name string) error {
	return &Error{Kind: KindProtectedRecord, Fields: []string{name}, Msg: "the selected " + name + " can't be deleted"}
}

// Incorrect reports a supplied secret (password or code) that does not match.
func Incorrect(field string) error {
	return &Error{Kind: KindIncorrect, Fields: []string{field}, Msg: "Incorrect " + field}
}

// Equal reports two fields that must differ.
func Equal(a, b string) error {
	return &Error{Kind: KindEquals, Fields: []string{a, b}, Msg: a + " and " + b + " are equal"}
}

// KindOf returns the kind of a typed error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
