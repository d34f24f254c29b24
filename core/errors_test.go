package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid argument", fmt.Errorf("decode: %w", ErrInvalidArgument), http.StatusBadRequest},
		{"unauthorized", ErrUnauthorized, http.StatusForbidden},
		{"not found", NewOpError("delete", "a1", ErrNotFound), http.StatusNotFound},
		{"no data found", ErrNoDataFound, http.StatusNotFound},
		{"dimension mismatch", ErrDimensionMismatch, http.StatusInternalServerError},
		{"upstream", Upstream("search", errors.New("connection refused")), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestUpstream(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Upstream("qdrant search", cause)

	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Same(t, err, Upstream("again", err))
	assert.NoError(t, Upstream("noop", nil))
}

func TestOpError(t *testing.T) {
	err := NewOpError("fetch", "post-1", ErrNotFound)
	assert.Equal(t, "fetch [key=post-1]: not found", err.Error())
	assert.Equal(t, "fetch: not found", NewOpError("fetch", "", ErrNotFound).Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}
