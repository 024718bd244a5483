package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

// TransientKind 瞬时错误类别。
type TransientKind string

const (
	KindRateLimit  TransientKind = "rate_limit"
	KindConnection TransientKind = "connection"
	KindTimeout    TransientKind = "timeout"
)

// TransientError 标记可以重试的供应商错误。
type TransientError struct {
	Kind TransientKind
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps err as a transient error of kind.
func NewTransient(kind TransientKind, err error) error {
	return &TransientError{Kind: kind, Err: err}
}

// IsTransient 判断错误是否可重试。
// 已标记的 *TransientError 直接生效；其余错误交给 Classify 推断。
func IsTransient(err error) bool {
	_, ok := Classify(err)
	return ok
}

// Classify 推断错误所属的瞬时类别。
// 熔断器打开和调用方取消都不可重试。
func Classify(err error) (TransientKind, bool) {
	if err == nil {
		return "", false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, context.Canceled) {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}

	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return KindRateLimit, true
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusGatewayTimeout:
			return KindTimeout, true
		case se.StatusCode >= 500:
			return KindConnection, true
		}
		return "", false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindConnection, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection, true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return KindRateLimit, true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout, true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "service unavailable"):
		return KindConnection, true
	}
	return "", false
}
