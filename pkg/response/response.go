package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 钱包业务错误码
// 用户可自行纠正的失败必须返回独立错误码和具体文案，
// 前端不允许展示笼统的"操作失败"
const (
	CodeInvalidAmount       = 1001
	CodeWalletDisabled      = 1002
	CodeBalanceNotEnough    = 1003
	CodeBelowMinCartValue   = 1004
	CodeExceedsMaxUsage     = 1005
	CodeCategoryNotEligible = 1006
	CodeWalletNotFound      = 1007
	CodeNotificationMissing = 1008
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
