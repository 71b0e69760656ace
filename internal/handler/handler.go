package handler

import (
	"errors"
	"strconv"
	"time"

	"coinwallet/internal/config"
	"coinwallet/internal/model"
	"coinwallet/internal/repository"
	"coinwallet/internal/service"
	"coinwallet/internal/ws"
	"coinwallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg                 *config.Config
	hub                 *ws.Hub
	walletService       *service.WalletService
	redeemService       *service.RedeemService
	settingsService     *service.SettingsService
	notificationService *service.NotificationService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, hub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		cfg:                 cfg,
		hub:                 hub,
		walletService:       service.NewWalletService(db, rdb, cfg),
		redeemService:       service.NewRedeemService(db, rdb, cfg),
		settingsService:     service.NewSettingsService(db, rdb),
		notificationService: service.NewNotificationService(db, cfg),
	}
}

// businessCode 钱包业务错误到错误码的映射
// 用户可纠正的错误必须带着具体文案原样返回（见 pkg/response 错误码注释）
func businessCode(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return response.CodeInvalidAmount, true
	case errors.Is(err, service.ErrWalletDisabled):
		return response.CodeWalletDisabled, true
	case errors.Is(err, service.ErrInsufficientBalance):
		return response.CodeBalanceNotEnough, true
	case errors.Is(err, service.ErrBelowMinCartValue):
		return response.CodeBelowMinCartValue, true
	case errors.Is(err, service.ErrExceedsMaxUsage):
		return response.CodeExceedsMaxUsage, true
	case errors.Is(err, service.ErrCategoryNotEligible):
		return response.CodeCategoryNotEligible, true
	case errors.Is(err, repository.ErrNotificationNotFound):
		return response.CodeNotificationMissing, true
	}
	return 0, false
}

func replyError(c *gin.Context, err error) {
	if code, ok := businessCode(err); ok {
		response.BusinessError(c, code, err.Error())
		return
	}
	// 存储类故障对调用方透明重试，不做自动重试
	response.ServerError(c, err.Error())
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":          wallet.UserID,
		"balance":          wallet.Balance,
		"redeemed_balance": wallet.RedeemedBalance,
	})
}

// ListTransactions 查询用户流水列表
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CreditRequest 入账请求
type CreditRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
	ExpiryDays  int    `json:"expiry_days"` // 0 表示不过期
}

// Credit 积分入账（业务方回调，如订单完成、商品过审奖励）
// POST /api/v1/wallet/credit
func (h *Handler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	creditReq := &service.CreditRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.ExpiryDays > 0 {
		expiresAt := time.Now().AddDate(0, 0, req.ExpiryDays)
		creditReq.ExpiresAt = &expiresAt
	}

	transaction, err := h.walletService.Credit(c.Request.Context(), creditReq)
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, transaction)
}

// FirstPurchaseBonus 首购奖励入账
// POST /api/v1/wallet/first-purchase-bonus
func (h *Handler) FirstPurchaseBonus(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	transaction, err := h.walletService.FirstPurchaseBonus(c.Request.Context(), req.UserID)
	if err != nil {
		replyError(c, err)
		return
	}

	if transaction == nil {
		response.Success(c, gin.H{"message": "未发放（钱包关闭或奖励为0）"})
		return
	}
	response.Success(c, transaction)
}

// Redeem 硬币兑换
// POST /api/v1/wallet/redeem
//
// 【关键点】兑换是钱包最核心的操作，需要保证：
// 1. 幂等性：相同的业务单据只扣减一次
// 2. 原子性：余额扣减、流水记录、推送事件必须同时成功或同时失败
// 3. 并发安全：条件更新保证并发兑换不会超扣
func (h *Handler) Redeem(c *gin.Context) {
	var req struct {
		UserID        int64   `json:"user_id" binding:"required"`
		Amount        int64   `json:"amount" binding:"required"`
		Description   string  `json:"description"`
		ReferenceType string  `json:"reference_type"`
		ReferenceID   string  `json:"reference_id"`
		OrderValue    float64 `json:"order_value"`
		Category      string  `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.redeemService.Redeem(c.Request.Context(), &service.RedeemRequest{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Description:   req.Description,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		OrderValue:    req.OrderValue,
		Category:      req.Category,
	})
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 配置相关接口（管理端）
// ============================================================

// GetSettings 查询钱包配置
// GET /api/v1/wallet/settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateSettings 更新钱包配置
// POST /api/v1/wallet/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var settings model.WalletSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.settingsService.Update(c.Request.Context(), &settings); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "配置已更新"})
}

// ============================================================
// 通知相关接口
// ============================================================

// CreateNotification 创建通知（业务方回调，如订单状态变化）
// POST /api/v1/notification/create
func (h *Handler) CreateNotification(c *gin.Context) {
	var req struct {
		UserID  int64  `json:"user_id" binding:"required"`
		Title   string `json:"title" binding:"required"`
		Message string `json:"message" binding:"required"`
		Type    string `json:"type" binding:"required"`
		Link    string `json:"link"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	notification := &model.Notification{
		UserID:  req.UserID,
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Link:    req.Link,
	}
	if err := h.notificationService.Create(c.Request.Context(), notification); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, notification)
}

// ListNotifications 查询通知列表
// GET /api/v1/notification/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListNotifications(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	notifications, total, err := h.notificationService.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      notifications,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UnreadCount 查询未读数
// GET /api/v1/notification/unread-count?user_id=xxx
func (h *Handler) UnreadCount(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	count, err := h.notificationService.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		replyError(c, err)
		return
	}

	response.Success(c, gin.H{"unread_count": count})
}

type notificationTarget struct {
	ID     int64 `json:"id" binding:"required"`
	UserID int64 `json:"user_id" binding:"required"`
}

// MarkRead 标记单条已读
// POST /api/v1/notification/read
func (h *Handler) MarkRead(c *gin.Context) {
	var req notificationTarget
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), req.ID, req.UserID); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已标记"})
}

// MarkAllRead 全部标记已读
// POST /api/v1/notification/read-all
func (h *Handler) MarkAllRead(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	affected, err := h.notificationService.MarkAllRead(c.Request.Context(), req.UserID)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"marked": affected})
}

// DeleteNotification 删除单条通知
// POST /api/v1/notification/delete
func (h *Handler) DeleteNotification(c *gin.Context) {
	var req notificationTarget
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.notificationService.Delete(c.Request.Context(), req.ID, req.UserID); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已删除"})
}

// DeleteAllNotifications 清空用户通知
// POST /api/v1/notification/delete-all
func (h *Handler) DeleteAllNotifications(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	affected, err := h.notificationService.DeleteAll(c.Request.Context(), req.UserID)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": affected})
}
