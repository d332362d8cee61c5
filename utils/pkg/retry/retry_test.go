package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return "http status" }
func (e statusErr) StatusCode() int { return int(e) }

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestFaker_Retry_Do_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var retried []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error) {
		retried = append(retried, attempt)
		require.ErrorContains(t, err, "connection reset")
	}

	attempts := 0
	err := Do(t.Context(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("read: connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []int{1, 2}, retried)
}

func TestFaker_Retry_Do_CustomRetryable(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Retryable = func(err error) bool { return err.Error() == "handshake" }

	attempts := 0
	err := Do(t.Context(), cfg, func() error {
		attempts++
		if attempts == 1 {
			return errors.New("handshake")
		}
		return errors.New("connection reset")
	})
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 2, attempts)
}

func TestFaker_Retry_Do_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	attempts := 0
	sentinel := errors.New("syntax error in query")
	err := Do(t.Context(), fastConfig(), func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestFaker_Retry_Do_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(t.Context(), fastConfig(), func() error {
		attempts++
		return errors.New("i/o timeout")
	})
	require.ErrorContains(t, err, "failed after 3 attempts")
	require.Equal(t, 3, attempts)
}

func TestFaker_Retry_DoValue_ReturnsResult(t *testing.T) {
	t.Parallel()

	attempts := 0
	v, err := DoValue(t.Context(), fastConfig(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("EOF")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestFaker_Retry_Do_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cfg := Config{MaxAttempts: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}
	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("service unavailable")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestFaker_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"status 503", statusErr(503), true},
		{"status 400", statusErr(400), false},
		{"clickhouse overload", errors.New("code: 202, message: Too many simultaneous queries"), true},
		{"plain", errors.New("table does not exist"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestFaker_Retry_Backoff(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(100*time.Millisecond, time.Second, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	d := backoff(100*time.Millisecond, time.Second, 1)
	require.GreaterOrEqual(t, d, 100*time.Millisecond)
	require.Less(t, d, 200*time.Millisecond)
}
