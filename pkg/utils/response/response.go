// Package response 定义统一的 HTTP 响应结构。
package response

import (
	"net/http"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Response is the unified API response envelope.
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	httpStatus int
}

// Success wraps data in a code-0 response.
func Success(data any) *Response {
	return &Response{Code: 0, Message: "success", Data: data, httpStatus: http.StatusOK}
}

// Err builds a response from err. Non-Errno errors become ErrInternal.
func Err(err error) *Response {
	e := errors.FromError(err)
	if e == nil {
		return Success(nil)
	}
	return &Response{Code: e.Code, Message: e.MessageEN, httpStatus: e.HTTPStatus()}
}

// ErrWithData is Err carrying a payload, e.g. field-level validation messages.
func ErrWithData(err error, data any) *Response {
	r := Err(err)
	r.Data = data
	return r
}

// WithRequestID sets the request id.
func (r *Response) WithRequestID(id string) *Response {
	r.RequestID = id
	return r
}

// HTTPStatus returns the HTTP status code for the response.
func (r *Response) HTTPStatus() int {
	if r.httpStatus != 0 {
		return r.httpStatus
	}
	return http.StatusOK
}
