package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/pkg/logger"
)

const apiVersion = "v1"

// Response wraps every API body. Exactly one of Data and Error is set.
type Response struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries paging for list endpoints.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Page      int       `json:"page,omitempty"`
	PageSize  int       `json:"page_size,omitempty"`
	HasMore   bool      `json:"has_more,omitempty"`
}

func envelope(c *gin.Context, meta *ResponseMeta) Response {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = apiVersion
	return Response{Meta: meta, RequestID: GetRequestID(c)}
}

func respond(c *gin.Context, status int, data any, meta *ResponseMeta) {
	r := envelope(c, meta)
	r.Success, r.Data = true, data
	c.JSON(status, r)
}

func abortWithError(c *gin.Context, status int, code, message string) {
	r := envelope(c, nil)
	r.Error = &APIError{Code: code, Message: message}
	c.AbortWithStatusJSON(status, r)
}

// errorMapping is checked in order; the first match decides the status.
// An empty message means the error text is shown to the client.
var errorMapping = []struct {
	match   func(error) bool
	status  int
	code    string
	message string
}{
	{shared.IsNotFound, http.StatusNotFound, "not_found", ""},
	{shared.IsValidation, http.StatusBadRequest, "invalid_request", ""},
	{shared.IsStateTransition, http.StatusConflict, "conflict", ""},
	{func(err error) bool { return errors.Is(err, command.ErrCycleAborted) }, http.StatusUnprocessableEntity, "cycle_aborted", ""},
	{func(err error) bool { return shared.IsRetryable(err) || shared.IsExternalService(err) },
		http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later"},
}

// respondError maps err onto a status. Unmapped errors are logged and
// reported as 500 without details.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	for _, m := range errorMapping {
		if !m.match(err) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		abortWithError(c, m.status, m.code, msg)
		return
	}
	logger.FromContext(c.Request.Context()).Error("request failed", logger.Err(err))
	abortWithError(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}
