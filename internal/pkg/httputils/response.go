// Package httputils provides HTTP utility functions.
package httputils

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// HeaderRequestID is echoed back in every response envelope.
const HeaderRequestID = "X-Request-ID"

// WriteResponse writes the response to the client.
// Errors are mapped through Errno; anything else becomes an internal error.
func WriteResponse(c *gin.Context, err error, data any) {
	var resp *response.Response
	if err != nil {
		resp = response.Err(err)
	} else {
		resp = response.Success(data)
	}
	if id := c.GetHeader(HeaderRequestID); id != "" {
		resp.WithRequestID(id)
	}
	c.JSON(resp.HTTPStatus(), resp)
}

// WriteError writes err with a payload, such as field-level validation details.
func WriteError(c *gin.Context, err error, data any) {
	resp := response.ErrWithData(err, data)
	if id := c.GetHeader(HeaderRequestID); id != "" {
		resp.WithRequestID(id)
	}
	c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
}
