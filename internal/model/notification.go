package model

import (
	"time"
)

const (
	NotificationTypeOrderStatus     = "ORDER_STATUS"
	NotificationTypeWallet          = "WALLET"
	NotificationTypeProductApproval = "PRODUCT_APPROVAL"
	NotificationTypePriceDrop       = "PRICE_DROP"
	NotificationTypeNewMessage      = "NEW_MESSAGE"
	NotificationTypeSystem          = "SYSTEM"
)

// Notification 站内通知表
// REST 查询接口以本表为准，推送通道只是加速层
type Notification struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"type:varchar(128);not null" json:"title"`
	Message   string    `gorm:"type:varchar(512);not null" json:"message"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	Link      string    `gorm:"type:varchar(256)" json:"link"`
	Read      bool      `gorm:"not null;default:false;index" json:"read"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notification"
}
