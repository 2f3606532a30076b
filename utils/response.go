package utils

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// FieldErrors reports form validation failures per field. No state has
// been changed when this is returned.
func FieldErrors(ctx *gin.Context, code int, fields map[string]string) {
	Respond(ctx, http.StatusBadRequest, code, "validation failed", gin.H{"errors": fields})
}

// Redirect issues a found (302) redirect to the location.
func Redirect(ctx *gin.Context, location string) {
	ctx.Redirect(http.StatusFound, location)
}

// RedirectToLogin sends a guest to the login page, preserving the
// originally requested path in the next query parameter.
func RedirectToLogin(ctx *gin.Context) {
	next := url.QueryEscape(ctx.Request.URL.RequestURI())
	ctx.Redirect(http.StatusFound, "/auth/login?next="+next)
}
