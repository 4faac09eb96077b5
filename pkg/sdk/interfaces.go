package sdk

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/inok-dev/inok-console/internal/storage"
)

var (
	// ErrReauthenticate matches every error produced by a 401 response. The
	// client has already cleared the token and navigated to login when a
	// caller sees it.
	ErrReauthenticate = errors.New("session expired, please log in again")
	// ErrKeyNotFound is returned by Storage implementations for missing keys.
	ErrKeyNotFound = storage.ErrKeyNotFound
)

// Fixed keys of the persisted session footprint.
const (
	TokenKey = "inok_token"
	UserKey  = "inok_user"
)

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// KindTransport: no HTTP response was obtained.
	KindTransport ErrorKind = iota + 1
	// KindUnauthorized: the backend answered 401.
	KindUnauthorized
	// KindResponse: any other non-2xx answer.
	KindResponse
	// KindDecode: a 2xx answer whose body is not an envelope.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindResponse:
		return "response"
	case KindDecode:
		return "decode"
	}
	return "unknown"
}

// APIError is the only error type the client returns for a call. Callers can
// use errors.As to branch on Kind and Status:
//
//	var apiErr *sdk.APIError
//	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity { ... }
type APIError struct {
	Kind    ErrorKind
	Method  string
	Path    string
	Status  int
	Message string
	Err     error

	reported atomic.Bool
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return target == ErrReauthenticate && e.Kind == KindUnauthorized
}

// Detail describes the failed call for logs.
func (e *APIError) Detail() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (%d): %s", e.Method, e.Path, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Kind, e.Message)
}

// MarkReported flags the error as shown to the user. It returns false when
// the error had already been reported.
func (e *APIError) MarkReported() bool {
	return e.reported.CompareAndSwap(false, true)
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// --- Collaborator interfaces ---

// Storage is the persisted key/value footprint of the session.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Navigator sends the front-end to its login screen.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }
