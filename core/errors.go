// Package core holds the error taxonomy shared by every layer of the service.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrNoDataFound       = errors.New("no data found")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUpstream          = errors.New("upstream failure")
)

// OpError records the operation and business key that failed.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s [key=%s]: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewOpError(op, key string, err error) *OpError {
	return &OpError{Op: op, Key: key, Err: err}
}

// Upstream wraps a collaborator failure so it classifies as ErrUpstream
// while keeping the original cause in the chain.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &OpError{Op: op, Err: fmt.Errorf("%w: %w", ErrUpstream, err)}
}

// StatusCode maps an error from the taxonomy to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoDataFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
