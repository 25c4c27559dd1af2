package handler

import (
	"net/http"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// HandleError 按领域错误类别返回状态码，错误码原样透出
//
// 5xx 的错误详情只写日志，响应体使用固定文案。
func HandleError(c *gin.Context, err error) {
	status := StatusOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		message = "internal server error"
		if status == http.StatusServiceUnavailable {
			message = "external service unavailable"
		}
	}
	c.JSON(status, Response{
		Success: false,
		Code:    escrow.CodeOf(err),
		Message: message,
	})
}

// StatusOf 领域错误类别到 HTTP 状态码
func StatusOf(err error) int {
	switch escrow.KindOf(err) {
	case escrow.InvalidInput:
		return http.StatusBadRequest
	case escrow.NotAuthorized:
		return http.StatusForbidden
	case escrow.InvalidState:
		return http.StatusConflict
	case escrow.NotFound:
		return http.StatusNotFound
	case escrow.ExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
