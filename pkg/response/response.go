package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MsgInternalError 500 类错误对外统一的提示，细节只写日志
const MsgInternalError = "服务器内部错误"

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Fail 以指定 HTTP 状态码返回失败
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{
		Success: false,
		Message: message,
	})
}

// Abort 用于中间件，终止后续处理
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Abort(c, http.StatusForbidden, message)
}

func ServerError(c *gin.Context) {
	Fail(c, http.StatusInternalServerError, MsgInternalError)
}
