package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimitErrorIsDetectedThroughWrapping(t *testing.T) {
	base := NewRateLimitError(429, nil, `{"error":"rate limited"}`, 2500, true)
	wrapped := fmt.Errorf("calling upstream: %w", base)

	require.True(t, IsRateLimitError(wrapped))
	require.False(t, IsNetworkError(wrapped))
}

func TestNetworkErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	netErr := NewNetworkError(cause)

	require.True(t, IsNetworkError(netErr))
	require.ErrorIs(t, netErr, cause)
}

func TestInvalidIndexErrorMessage(t *testing.T) {
	err := NewInvalidIndexError(5, 2)
	require.Equal(t, "invalid_index", err.Code)
	require.Contains(t, err.Error(), "5")
}

func TestNoAccountsErrorIsRetryableFalse(t *testing.T) {
	err := NewNoAccountsError()
	require.False(t, err.Retryable)
	require.True(t, IsNoAccountsError(err))
}
