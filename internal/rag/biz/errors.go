package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// ValidationError 是不可重试的输入错误，Index 为 -1 表示不针对某个元素。
type ValidationError struct {
	Field  string
	Index  int
	Reason string

	code *errs.Errno
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(field string, index int, code *errs.Errno, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:  field,
		Index:  index,
		Reason: fmt.Sprintf(format, args...),
		code:   code,
	}
}

// FatalError 表示重试耗尽、空回答或格式错误的供应商响应。
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// 流水线操作名。
const (
	OpEmbed    = "embed"
	OpRetrieve = "retrieve"
	OpGenerate = "generate"
	OpIndex    = "index"
	OpStore    = "store"
)

func fatal(op string, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}

// IsValidation 判断错误链中是否存在 *ValidationError。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ToErrno 把流水线错误映射为对外的业务错误码。
func ToErrno(err error) *errs.Errno {
	if err == nil {
		return nil
	}

	var e *errs.Errno
	if errors.As(err, &e) {
		return e
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		code := ve.code
		if code == nil {
			code = errs.ErrRAGInvalidRequest
		}
		return code.WithMessage(ve.Reason)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.ErrRAGQueryTimeout.WithCause(err)
	case errors.Is(err, llm.ErrEmptyResponse):
		return errs.ErrRAGEmptyAnswer.WithCause(err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return errs.ErrRAGMalformedReply.WithCause(err)
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return errs.ErrRAGServiceUnavailable.WithCause(err)
	}

	var te *resilience.TransientError
	if errors.As(err, &te) && te.Kind == resilience.KindRateLimit {
		return errs.ErrRAGProviderRateLimited.WithCause(err)
	}

	var fe *FatalError
	if errors.As(err, &fe) {
		switch fe.Op {
		case OpIndex:
			return errs.ErrRAGIndexFailed.WithCause(err)
		case OpStore:
			return errs.ErrRAGStorage.WithCause(err)
		}
		return errs.ErrRAGQueryFailed.WithCause(err)
	}
	return errs.ErrInternal.WithCause(err)
}
