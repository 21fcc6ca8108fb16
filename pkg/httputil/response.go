package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medication-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	TraceID string       `json:"trace_id,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError names one request field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError maps err onto its HTTP status. Internal details never
// reach the client.
func RespondWithError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    status,
			Message: errors.Message(err),
			TraceID: c.GetString("request_id"),
		},
	})
}

// RespondWithFieldErrors sends a 400 listing every invalid field.
func RespondWithFieldErrors(c *gin.Context, fields []FieldError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    http.StatusBadRequest,
			Message: "validation failed",
			TraceID: c.GetString("request_id"),
			Fields:  fields,
		},
	})
}
