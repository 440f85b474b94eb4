package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFabricErrorRendering(t *testing.T) {
	err := NewError(ErrCodeInvalidArgument, "route_table", "prefix must start with '/'")

	assert.Equal(t, "[INVALID_ARGUMENT] route_table: prefix must start with '/'", err.Error())
	assert.Equal(t, ErrCodeInvalidArgument, err.Code)
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("file missing")
	err := WrapError(cause, ErrCodeConfigLoad, "config", "failed to read config file")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "file missing", err.Details)

	assert.Nil(t, WrapError(nil, ErrCodeConfigLoad, "config", "ignored"))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := NewConnectionNotSupportedError("backend-pool")
	wrapped := fmt.Errorf("forwarding failed: %w", inner)

	assert.True(t, HasCode(wrapped, ErrCodeConnectionNotSupported))
	assert.False(t, HasCode(wrapped, ErrCodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeConnectionNotSupported))
	assert.False(t, HasCode(nil, ErrCodeConnectionNotSupported))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeUnknownStrategy, GetErrorCode(NewUnknownStrategyError("engine", "sticky")))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(errors.New("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	a := NewErrorf(ErrCodeNotFound, "admin_api", "no backend named %q", "ghost")
	b := NewError(ErrCodeNotFound, "other", "different message")

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, NewError(ErrCodeInternal, "other", "x"))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeInvalidArgument, 400},
		{ErrCodeInvalidConfig, 400},
		{ErrCodeUnknownStrategy, 400},
		{ErrCodeNotFound, 404},
		{ErrCodeConnectionNotSupported, 500},
		{ErrCodeInternal, 500},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, NewError(tc.code, "c", "m").HTTPStatusCode(), "code %s", tc.code)
	}

	assert.Equal(t, 500, GetHTTPStatusCode(errors.New("plain")))
	assert.Equal(t, 404, GetHTTPStatusCode(NewError(ErrCodeNotFound, "c", "m")))
}

func TestConstructorsAttachMetadata(t *testing.T) {
	err := NewInvalidPrefixError("route_table", "api")
	assert.Equal(t, "api", err.Metadata["prefix"])
	assert.Contains(t, err.Message, `"api"`)

	err = NewUnknownStrategyError("engine", "sticky")
	assert.Equal(t, "sticky", err.Metadata["strategy"])

	err = NewConnectionNotSupportedError("api-1")
	assert.Equal(t, "api-1", err.Metadata["downstream"])
	assert.True(t, IsFabricError(err))
}
