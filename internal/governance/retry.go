package governance

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig defines retry behavior for outbound deliveries.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (0 = no retries).
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64
	// Jitter adds up to 25% randomness to each delay.
	Jitter bool
	// RetryableStatusCodes lists HTTP statuses that trigger a retry.
	RetryableStatusCodes map[int]bool
}

// DefaultRetryableStatusCodes are transient upstream statuses.
func DefaultRetryableStatusCodes() map[int]bool {
	return map[int]bool{
		http.StatusRequestTimeout:      true, // 408
		http.StatusTooManyRequests:     true, // 429
		http.StatusInternalServerError: true, // 500
		http.StatusBadGateway:          true, // 502
		http.StatusServiceUnavailable:  true, // 503
		http.StatusGatewayTimeout:      true, // 504
	}
}

// DefaultRetryConfig returns the delivery defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:           3,
		InitialBackoff:       200 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
		BackoffMultiplier:    2.0,
		Jitter:               true,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// RetryPolicy decides whether and when a failed delivery is attempted again.
type RetryPolicy struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableStatusCodes == nil {
		config.RetryableStatusCodes = DefaultRetryableStatusCodes()
	}
	return &RetryPolicy{config: config, sleep: sleepContext}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// ShouldRetry reports whether attempt (zero based) may be followed by another.
// statusCode is zero when no response was received.
func (rp *RetryPolicy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= rp.config.MaxRetries {
		return false
	}
	if statusCode > 0 {
		return rp.config.RetryableStatusCodes[statusCode]
	}
	return IsRetryableError(err)
}

// CalculateBackoff returns the delay before retry number attempt+1.
func (rp *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt)))
	if backoff > rp.config.MaxBackoff || backoff <= 0 {
		backoff = rp.config.MaxBackoff
	}

	if rp.config.Jitter && backoff >= 4 {
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff / 4)))
	}
	return backoff
}

// Result summarises an ExecuteWithRetry run.
type Result struct {
	StatusCode int
	// Attempts counts every call of fn, including the first.
	Attempts int
}

// ExecuteWithRetry calls fn until it succeeds, the failure is final, retries
// are exhausted or ctx ends. fn reports the HTTP status it saw (zero for none)
// and a non-nil error for any failure. The last error from fn is returned
// unwrapped.
func (rp *RetryPolicy) ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context, attempt int) (int, error)) (Result, error) {
	var res Result
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		status, err := fn(ctx, attempt)
		res.StatusCode = status
		res.Attempts++
		if err == nil {
			return res, nil
		}

		if !rp.ShouldRetry(status, err, attempt) || ctx.Err() != nil {
			return res, err
		}
		if serr := rp.sleep(ctx, rp.CalculateBackoff(attempt)); serr != nil {
			return res, err
		}
	}
}

// IsRetryableError reports whether a delivery error without a response is
// transient. Cancellation and errors marked Permanent are final; everything
// else, timeouts included, is treated as a transport failure and retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message is unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
