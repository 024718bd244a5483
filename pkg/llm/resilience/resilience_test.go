package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var delays []time.Duration
	cfg := fastRetry()
	cfg.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }

	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransient(KindRateLimit, errors.New("429"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := errors.New("invalid api key")
	err := Retry(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return perm
	})
	assert.Same(t, perm, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return NewTransient(KindConnection, errors.New("connection reset"))
	})
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err), "耗尽后仍保留原始分类，由调用方升级为致命错误")
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}
	err := Retry(ctx, cfg, func(context.Context) error {
		cancel()
		return NewTransient(KindTimeout, errors.New("slow"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind TransientKind
		ok   bool
	}{
		{"429", &httpclient.StatusError{StatusCode: http.StatusTooManyRequests}, KindRateLimit, true},
		{"503", fmt.Errorf("embed: %w", &httpclient.StatusError{StatusCode: 503}), KindConnection, true},
		{"504", &httpclient.StatusError{StatusCode: 504}, KindTimeout, true},
		{"400", &httpclient.StatusError{StatusCode: 400}, "", false},
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"canceled", context.Canceled, "", false},
		{"breaker", ErrCircuitBreakerOpen, "", false},
		{"message", errors.New("Rate limit reached for requests"), KindRateLimit, true},
		{"plain", errors.New("model not found"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := Classify(tc.err)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	transient := func() error { return NewTransient(KindConnection, errors.New("down")) }

	// 非瞬时错误不计入失败
	_ = cb.Execute(func() error { return errors.New("bad request") })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(transient)
	_ = cb.Execute(transient)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	cb.Reset()
	assert.Equal(t, "closed", cb.State().String())
}

func TestNilCircuitBreakerPassesThrough(t *testing.T) {
	var cb *CircuitBreaker
	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetry(), cb, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
