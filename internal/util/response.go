package util

import (
	"errors"
	"net/http"

	"habitquest_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 带数据的错误响应，例如冷却剩余时间
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err), zap.String("path", c.FullPath()))
	InternalServerError(c)
}

// HandleServiceError 将领域错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	var cooldown *CooldownError
	switch {
	case errors.As(err, &cooldown):
		ErrorWithData(c, http.StatusTooManyRequests, err.Error(), gin.H{
			"retryAfterSeconds": int(cooldown.Remaining.Seconds() + 0.999),
		})
	case errors.Is(err, ErrInvalidInput):
		BadRequest(c, err.Error())
	case errors.Is(err, ErrDailyCapExceeded), errors.Is(err, ErrInsufficientGold):
		Error(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrGuildNotFound),
		errors.Is(err, ErrMissionNotFound):
		Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrGuildFull), errors.Is(err, ErrAlreadyInGuild),
		errors.Is(err, ErrLeaderMustDisband), errors.Is(err, ErrSyncInProgress),
		errors.Is(err, ErrNotConnected), errors.Is(err, ErrSyncConflict),
		errors.Is(err, ErrMissionCompleted):
		Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotGuildMember), errors.Is(err, ErrPermissionDenied):
		Forbidden(c)
	case errors.Is(err, ErrInvalidRole):
		BadRequest(c, err.Error())
	case errors.Is(err, ErrTokenInvalid):
		Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrProvider):
		logger.Log.Warn("Activity provider error", zap.Error(err))
		Error(c, http.StatusBadGateway, "activity provider unavailable, please try again")
	case errors.Is(err, ErrConfiguration):
		logger.Log.Error("Provider configuration error", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error())
	default:
		LogInternalError(c, err)
	}
}
