package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeForStatus(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, ErrTypeInvalidRequest},
		{http.StatusUnauthorized, ErrTypeAuthentication},
		{http.StatusForbidden, ErrTypePermission},
		{http.StatusNotFound, ErrTypeNotFound},
		{http.StatusRequestEntityTooLarge, ErrTypeRequestTooLarge},
		{http.StatusTooManyRequests, ErrTypeRateLimit},
		{529, ErrTypeOverloaded},
		{http.StatusBadGateway, ErrTypeAPI},
		{http.StatusInternalServerError, ErrTypeAPI},
		{http.StatusTeapot, ErrTypeAPI},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorTypeForStatus(tc.status), "status %d", tc.status)
	}
}

func TestNewErrorResponse_Shape(t *testing.T) {
	resp := NewErrorResponse(ErrTypeRateLimit, "slow down")

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "error",
		"error": {"type": "rate_limit_error", "message": "slow down"}
	}`, string(data))
}

func TestIsContextCanceled(t *testing.T) {
	assert.True(t, IsContextCanceled(context.Canceled))
	assert.True(t, IsContextCanceled(fmt.Errorf("request failed: %w", context.Canceled)))
	assert.False(t, IsContextCanceled(context.DeadlineExceeded))
	assert.False(t, IsContextCanceled(fmt.Errorf("plain failure")))
	assert.False(t, IsContextCanceled(nil))
}
