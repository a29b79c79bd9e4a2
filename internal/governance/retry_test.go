package governance

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(p *RetryPolicy) *RetryPolicy {
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	cfg := NewRetryPolicy(RetryConfig{MaxRetries: -2}).Config()
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.True(t, cfg.RetryableStatusCodes[http.StatusServiceUnavailable])
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 2})
	transport := errors.New("connection refused")

	assert.True(t, p.ShouldRetry(0, transport, 0))
	assert.True(t, p.ShouldRetry(0, context.DeadlineExceeded, 1))
	assert.False(t, p.ShouldRetry(0, transport, 2), "retries exhausted")
	assert.False(t, p.ShouldRetry(0, context.Canceled, 0))
	assert.False(t, p.ShouldRetry(0, Permanent(transport), 0))

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, p.ShouldRetry(code, transport, 0), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 501} {
		assert.False(t, p.ShouldRetry(code, transport, 0), "status %d", code)
	}
}

func TestCalculateBackoff(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second})
	assert.Equal(t, 100*time.Millisecond, p.CalculateBackoff(0))
	assert.Equal(t, 200*time.Millisecond, p.CalculateBackoff(1))
	assert.Equal(t, 400*time.Millisecond, p.CalculateBackoff(2))
	assert.Equal(t, time.Second, p.CalculateBackoff(10))
	assert.Equal(t, time.Second, p.CalculateBackoff(5000), "overflow is capped")

	jittered := NewRetryPolicy(RetryConfig{InitialBackoff: 100 * time.Millisecond, Jitter: true})
	for range 50 {
		d := jittered.CalculateBackoff(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	p := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 3}))
	calls := 0
	res, err := p.ExecuteWithRetry(context.Background(), func(_ context.Context, attempt int) (int, error) {
		assert.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return http.StatusServiceUnavailable, errors.New("503")
		}
		return http.StatusOK, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExecuteWithRetry_Exhausted(t *testing.T) {
	p := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 2}))
	want := errors.New("status 500")
	res, err := p.ExecuteWithRetry(context.Background(), func(context.Context, int) (int, error) {
		return http.StatusInternalServerError, want
	})
	assert.Same(t, want, err, "last error is returned unwrapped")
	assert.Equal(t, 3, res.Attempts)
}

func TestExecuteWithRetry_FinalStatusNotRetried(t *testing.T) {
	p := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 5}))
	res, err := p.ExecuteWithRetry(context.Background(), func(context.Context, int) (int, error) {
		return http.StatusBadRequest, errors.New("status 400")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteWithRetry_ZeroRetries(t *testing.T) {
	p := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 0}))
	res, err := p.ExecuteWithRetry(context.Background(), func(context.Context, int) (int, error) {
		return 0, errors.New("connection reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(RetryConfig{MaxRetries: 3, InitialBackoff: time.Hour})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res, err := p.ExecuteWithRetry(ctx, func(context.Context, int) (int, error) {
		return 0, errors.New("connection refused")
	})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 1, res.Attempts)
	assert.Less(t, time.Since(start), time.Minute)
}
