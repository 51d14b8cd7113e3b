package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// Error represents a structured error response.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response will be
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// Errors emits a JSON error envelope and structured log entry when an error
// was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		logger := log.Ctx(c.Request.Context()).Error().Str("code", err.Code)
		if err.FieldErrors != nil {
			for k, v := range err.FieldErrors {
				logger = logger.Str("field_"+k, v)
			}
		}
		logger.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}

// Fail maps a domain error onto the error envelope. Unknown errors become a
// 500 without leaking their text.
func Fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, lifecycle.ErrForbidden), errors.Is(err, lifecycle.ErrNotApprover):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, lifecycle.ErrCommentNotAllowed), errors.Is(err, lifecycle.ErrInternalComment):
		status, code = http.StatusUnprocessableEntity, "comment_not_allowed"
	case errors.Is(err, lifecycle.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, lifecycle.ErrAlreadyDecided):
		status, code = http.StatusConflict, "already_decided"
	case errors.Is(err, lifecycle.ErrNoCycle), errors.Is(err, lifecycle.ErrNoActiveCycle):
		status, code = http.StatusConflict, "no_active_cycle"
	case errors.Is(err, lifecycle.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("unhandled error")
		msg = "internal error"
	}
	AbortError(c, status, code, msg, nil)
}

// BindError reports a request binding failure, listing validator field errors.
func BindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		AbortError(c, http.StatusBadRequest, "validation", "invalid request", fields)
		return
	}
	AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
}
