package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sudooom.market.chat/internal/config"
	"sudooom.market.chat/internal/handler"
	"sudooom.market.chat/internal/health"
	"sudooom.market.chat/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	verifier middleware.Verifier,
	chatHandler *handler.ChatHandler,
	checker *health.Checker,
	socketServer http.Handler,
) *gin.Engine {
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// 探活与监控（无需登录）
	r.GET("/health", checker.Live)
	r.GET("/ready", checker.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket 在首帧内自行认证
	r.GET("/ws", gin.WrapH(socketServer))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(verifier))
	{
		chat := v1.Group("/chat")
		{
			chat.POST("/private", chatHandler.OpenPrivateChat)
			chat.POST("/room", chatHandler.CreateRoom)
			chat.GET("/rooms", chatHandler.ListRooms)
			chat.GET("/token", chatHandler.IssueChannelToken)

			room := chat.Group("/room/:roomId")
			{
				room.GET("", chatHandler.GetRoom)
				room.DELETE("", chatHandler.DeleteRoom)
				room.POST("/members", chatHandler.AddMembers)
				room.DELETE("/members", chatHandler.RemoveMembers)
				room.PATCH("/members/:userId/role", chatHandler.UpdateMemberRole)
				room.POST("/leave", chatHandler.LeaveRoom)
			}
		}
	}

	return r
}
