package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"coinwallet/internal/config"
	"coinwallet/internal/model"
	"coinwallet/internal/repository"

	"gorm.io/gorm"
)

type NotificationService struct {
	db               *gorm.DB
	cfg              *config.Config
	notificationRepo *repository.NotificationRepository
	outboxRepo       *repository.OutboxRepository
}

func NewNotificationService(db *gorm.DB, cfg *config.Config) *NotificationService {
	return &NotificationService{
		db:               db,
		cfg:              cfg,
		notificationRepo: repository.NewNotificationRepository(db),
		outboxRepo:       repository.NewOutboxRepository(db),
	}
}

// CreateInTx 在给定事务内落库通知并写入发件箱
//
// 【关键点】通知行和推送事件必须同事务提交：
// 只落通知不发事件会丢推送，只发事件不落通知会推送幽灵数据。
// REST 查询接口始终以通知表为准，推送只是加速层
func (s *NotificationService) CreateInTx(ctx context.Context, tx *gorm.DB, notification *model.Notification) error {
	if err := s.notificationRepo.Create(ctx, tx, notification); err != nil {
		return fmt.Errorf("写入通知失败: %w", err)
	}

	event := &model.WalletEvent{
		UserID:       notification.UserID,
		Notification: notification,
	}
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	outboxMsg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(notification.UserID, 10),
		Topic:      s.cfg.Kafka.Topic.WalletEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}

	return nil
}

// Create 落库通知并触发推送事件
func (s *NotificationService) Create(ctx context.Context, notification *model.Notification) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.CreateInTx(ctx, tx, notification)
	})
}

func (s *NotificationService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.Notification, int64, error) {
	return s.notificationRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.notificationRepo.CountUnread(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID int64) error {
	return s.notificationRepo.MarkRead(ctx, id, userID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.notificationRepo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, id, userID int64) error {
	return s.notificationRepo.Delete(ctx, id, userID)
}

func (s *NotificationService) DeleteAll(ctx context.Context, userID int64) (int64, error) {
	return s.notificationRepo.DeleteAll(ctx, userID)
}
