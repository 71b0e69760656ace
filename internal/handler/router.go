package handler

import (
	"coinwallet/internal/config"
	"coinwallet/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, hub *ws.Hub, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, hub, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/credit", h.Credit)
			wallet.POST("/first-purchase-bonus", h.FirstPurchaseBonus)
			wallet.POST("/redeem", h.Redeem)
			wallet.GET("/settings", h.GetSettings)
			wallet.POST("/settings", h.UpdateSettings)
		}

		// 通知相关
		notification := api.Group("/notification")
		{
			notification.POST("/create", h.CreateNotification)
			notification.GET("/list", h.ListNotifications)
			notification.GET("/unread-count", h.UnreadCount)
			notification.POST("/read", h.MarkRead)
			notification.POST("/read-all", h.MarkAllRead)
			notification.POST("/delete", h.DeleteNotification)
			notification.POST("/delete-all", h.DeleteAllNotifications)
		}

		// 推送通道
		api.GET("/ws", h.ServeWS)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
