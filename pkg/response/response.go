package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Business status codes carried in the body next to the HTTP status. The
// blog front end switches on these rather than on the HTTP status.
const (
	CodeSuccess     = 20000
	CodeNoLogin     = 40001
	CodeForbidden   = 40300
	CodeNotFound    = 40400
	CodeConflict    = 40900
	CodeSystemError = 50000
	CodeFail        = 51000
	CodeValidError  = 52000
)

// Result is the envelope of every JSON response.
type Result struct {
	Flag    bool        `json:"flag"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success sends a successful response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Result{
		Flag:    true,
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created sends a 201 created response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Result{
		Flag:    true,
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

// Error aborts the chain with an error response.
func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Result{
		Flag:    false,
		Code:    code,
		Message: message,
	})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeValidError, message)
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeNoLogin, message)
}

// Forbidden sends a 403 error response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, CodeConflict, message)
}

// Fail sends a 502 error response for a failed downstream call
// (storage, database) that is not the caller's fault.
func Fail(c *gin.Context, message string) {
	Error(c, http.StatusBadGateway, CodeFail, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeSystemError, message)
}
