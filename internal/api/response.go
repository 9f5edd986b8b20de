package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"veridoc/verification-backend/internal/verification"
)

// Response is the uniform envelope every endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// Fail writes an error envelope from a domain error, mapping its code to an
// HTTP status. Unknown errors are reported as internal without leaking detail.
func Fail(c *gin.Context, err error) {
	code := verification.CodeOf(err)
	body := ErrorBody{Code: string(code), Message: err.Error()}
	if code == verification.CodeInternal {
		body.Message = "internal error"
	}
	c.JSON(httpStatusFor(code), Response{Success: false, Error: &body})
}

// FailWith writes an error envelope for a code and message directly.
func FailWith(c *gin.Context, code verification.ErrorCode, message string) {
	c.JSON(httpStatusFor(code), Response{
		Success: false,
		Error:   &ErrorBody{Code: string(code), Message: message},
	})
}

func httpStatusFor(code verification.ErrorCode) int {
	switch code {
	case verification.CodeNotFound:
		return http.StatusNotFound
	case verification.CodeForbidden:
		return http.StatusForbidden
	case verification.CodeInvalidArgument:
		return http.StatusBadRequest
	case verification.CodeInvalidState:
		return http.StatusConflict
	case verification.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case verification.CodeExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
