package model

import (
	"strings"
	"time"
)

// WalletSettings 钱包策略配置表（全局单行，管理端维护）
// 兑换前置校验全部依赖本表的快照，读多写少
type WalletSettings struct {
	ID                   int64     `gorm:"primaryKey" json:"id"`
	IsActive             bool      `gorm:"not null;default:true" json:"is_active"`                // 钱包系统总开关
	FirstPurchaseCoins   int64     `gorm:"not null;default:0" json:"first_purchase_coins"`        // 首购奖励硬币数
	ExpiryDays           int       `gorm:"not null;default:0" json:"expiry_days"`                 // 发放积分有效天数（0 表示不过期）
	ConversionRate       float64   `gorm:"not null;default:1" json:"conversion_rate"`             // 兑换比率（多少硬币抵1个货币单位）
	MaxUsagePercentage   float64   `gorm:"not null;default:0" json:"max_usage_percentage"`        // 单笔订单最高抵扣比例（0 表示不限制）
	MinCartValue         float64   `gorm:"not null;default:0" json:"min_cart_value"`              // 可用兑换的最低订单金额（0 表示不限制）
	ApplicableCategories string    `gorm:"type:varchar(512)" json:"applicable_categories"`        // 可用类目，逗号分隔（空表示全部可用）
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletSettings) TableName() string {
	return "wallet_settings"
}

// SettingsID 单行配置固定主键
const SettingsID = 1

// CategoryAllowed 校验类目是否在可用范围内
// 类目匹配不区分大小写；配置为空时全部类目可用
func (s *WalletSettings) CategoryAllowed(category string) bool {
	allowed := strings.TrimSpace(s.ApplicableCategories)
	if allowed == "" || category == "" {
		return true
	}
	for _, c := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(category)) {
			return true
		}
	}
	return false
}
