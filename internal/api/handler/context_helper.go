package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mvalley/backend/internal/api/middleware"
	"mvalley/backend/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	uid := c.GetString(middleware.ContextUserID)
	if uid == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return uid, true
}

// requireParam 读取路径参数，为空时写入 400
func requireParam(c *gin.Context, name, label string) (string, bool) {
	v := c.Param(name)
	if v == "" {
		response.BadRequest(c, 10001, label+"不能为空")
		return "", false
	}
	return v, true
}

// badBinding 参数绑定失败；请求体超限时返回 413
func badBinding(c *gin.Context, err error) {
	if middleware.IsBodyTooLarge(err) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return
	}
	response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
}
