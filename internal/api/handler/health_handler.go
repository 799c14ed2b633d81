package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 依赖探活函数
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查
// 任一必需依赖失败返回 503；可选依赖失败只标记为 degraded
type HealthHandler struct {
	required map[string]HealthCheck
	optional map[string]HealthCheck
}

// NewHealthHandler 创建 HealthHandler
func NewHealthHandler(required, optional map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{required: required, optional: optional}
}

// Health GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := gin.H{}

	for name, check := range h.required {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	for name, check := range h.optional {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{"status": status, "checks": checks})
}
