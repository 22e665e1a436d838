package api

import (
	"errors"
	"log/slog"
	"net/http"

	"listing-desk/internal/apperr"
	"listing-desk/internal/logger"

	"github.com/gin-gonic/gin"
)

// envelope 是所有接口的统一响应结构。
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

// respondError 将领域错误映射为 HTTP 状态码，未知错误只返回通用提示。
func respondError(c *gin.Context, log *slog.Logger, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context(), log).Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"err", err,
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, envelope) {
	if ve, ok := apperr.IsValidation(err); ok {
		return http.StatusUnprocessableEntity, envelope{Message: "The given data was invalid.", Errors: ve.Fields}
	}
	var te *apperr.TransactionError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, envelope{Message: "Resource not found."}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, envelope{Message: "Unauthenticated."}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, envelope{Message: "Forbidden."}
	case errors.As(err, &te):
		return http.StatusInternalServerError, envelope{Message: te.Message}
	default:
		return http.StatusInternalServerError, envelope{Message: "Internal server error"}
	}
}
