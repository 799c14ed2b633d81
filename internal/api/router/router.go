package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mvalley/backend/config"
	"mvalley/backend/internal/api/handler"
	"mvalley/backend/internal/api/middleware"
	"mvalley/backend/pkg/jwt"
	"mvalley/backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// rdb 可为 nil（Redis 不可用时黑名单与限流降级放行）
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimitKB * 1024))

	// ── 健康检查 ──
	r.GET("/health", h.Health.Health)

	// 写操作：运营角色 + 限流
	writer := []gin.HandlerFunc{
		middleware.RoleAuth(jwt.RoleAdmin, jwt.RoleOps),
		middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger),
	}
	write := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writer...), hf)
	}

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr, rdb, logger))
	{
		// 开课时段模块
		slots := v1.Group("/teaching-slots")
		{
			slots.GET("", h.TeachingSlot.ListTeachingSlots)
			slots.GET("/:id", h.TeachingSlot.GetTeachingSlot)
			slots.POST("", write(h.TeachingSlot.CreateTeachingSlot)...)
			slots.PUT("/:id", write(h.TeachingSlot.UpdateTeachingSlot)...)
			slots.DELETE("/:id", write(h.TeachingSlot.DeleteTeachingSlot)...)
		}

		// 分配模块
		allocation := v1.Group("/allocation")
		{
			runs := allocation.Group("/runs")
			{
				runs.POST("", write(h.Allocation.CreateRun)...)
				runs.GET("", h.Allocation.ListRuns)
				runs.GET("/:id", h.Allocation.GetRun)
				runs.POST("/:id/cancel", write(h.Allocation.CancelRun)...)
				runs.GET("/:id/candidate-groups", h.Allocation.ListCandidateGroups)
				runs.GET("/:id/export", middleware.RoleAuth(jwt.RoleAdmin, jwt.RoleOps), h.Export.ExportRun)
			}

			groups := allocation.Group("/candidate-groups")
			{
				groups.GET("/:id", h.Allocation.GetCandidateGroup)
				groups.GET("/:id/transitions", h.Allocation.ListTransitions)
				groups.PATCH("/:id/status", write(h.Allocation.UpdateCandidateGroupStatus)...)
				groups.POST("/:id/confirm", write(h.Allocation.ConfirmCandidateGroup)...)
			}
		}

		// 日历订阅（已确认班级）
		calendars := v1.Group("/calendars")
		{
			calendars.GET("/instructors/:file", h.Calendar.InstructorCalendar)
			calendars.GET("/rooms/:file", h.Calendar.RoomCalendar)
		}
	}

	return r
}
