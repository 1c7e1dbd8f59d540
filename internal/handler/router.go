package handler

import (
	"time"

	"dailybonus/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	api.Use(TimeoutMiddleware(cfg.Server.RequestTimeout))
	api.Use(AuthMiddleware(&cfg.Auth))
	{
		// 所有每日奖励操作共用一个入口，按 action 分发
		api.POST("/bonus", h.HandleBonus)

		account := api.Group("/account", RequireUser())
		{
			account.GET("/balance", h.GetBalance)
		}
	}

	// 健康检查
	r.GET("/health", Health(time.Now()))

	return r
}
