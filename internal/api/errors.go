package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"alumni/internal/errs"
)

// status maps the error taxonomy to an HTTP status code.
func status(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated), errors.Is(err, errs.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(c *gin.Context, err error, extra gin.H) {
	code := status(err)
	body := gin.H{"ok": false, "error": err.Error()}
	var conflict *errs.ConflictError
	if errors.As(err, &conflict) {
		body["error"] = "Version conflict"
		body["currentVersion"] = conflict.Current
	}
	if code == http.StatusInternalServerError {
		h.log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "internal error"
	}
	for k, v := range extra {
		body[k] = v
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, body)
}

func (h *handler) badRequest(c *gin.Context, err error) {
	h.writeError(c, errs.Invalid("%v", err), nil)
}
