package model

import (
	"time"
)

// Wallet 用户钱包表
// 记录用户的硬币余额，是整个钱包系统的核心数据
//
// 余额约束：balance = 未过期积分之和 - 已消费之和 - 已过期之和，永不为负
type Wallet struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex;not null" json:"user_id"`          // 用户ID，业务方传入
	Balance         int64     `gorm:"not null;default:0" json:"balance"`            // 可用余额（硬币数）
	RedeemedBalance int64     `gorm:"not null;default:0" json:"redeemed_balance"`   // 累计已兑换硬币数（仅统计用途，不参与记账）
	Version         int       `gorm:"not null;default:0" json:"version"`            // 乐观锁版本号
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
