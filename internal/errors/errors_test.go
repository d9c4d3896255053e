package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	coded := New(ErrCodeConflict, "template already has an active approval")
	wrapped := fmt.Errorf("submit: %w", coded)

	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.Equal(t, "template already has an active approval", MessageOf(wrapped))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	plain := fmt.Errorf("connection reset")

	assert.Equal(t, ErrCodeInternal, CodeOf(plain))
	assert.Equal(t, "internal error", MessageOf(plain))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeRulesNotConfigured, http.StatusBadRequest},
		{ErrCodeAmbiguousRouting, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeDependency, http.StatusBadGateway},
		{ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.code, "x")))
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(cause, ErrCodeDependency, "escalation matrix service unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "DEPENDENCY_FAILURE")
	assert.Contains(t, err.Error(), "connection refused")
}
