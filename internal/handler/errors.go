package handler

import (
	"campusconnect/backend/internal/apperr"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
	Code  string `json:"code" example:"NOT_FOUND"`
}

var statusOf = map[apperr.Kind]int{
	apperr.KindInvalidArgument: http.StatusBadRequest,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindUnavailable:     http.StatusServiceUnavailable,
	apperr.KindTimeout:         http.StatusGatewayTimeout,
}

// respondError writes err as an ErrorResponse. Untyped errors are logged
// and reported as 500 without their details.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusOf[kind]
	if !ok {
		status = http.StatusInternalServerError
		kind = apperr.KindInternal
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: apperr.Message(err), Code: string(kind)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: string(apperr.KindInvalidArgument)})
}

func currentUser(c *gin.Context) uint {
	return c.MustGet("userID").(uint)
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
