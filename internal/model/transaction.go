package model

import (
	"fmt"
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeCredit  = "CREDIT"  // 积分入账（首购奖励、人工发放等）
	TransactionTypeDebit   = "DEBIT"   // 兑换扣减
	TransactionTypeExpired = "EXPIRED" // 过期核销
)

// ============================================================================
// 钱包流水实体
// ============================================================================

// WalletTransaction 钱包流水表
// 记录钱包的每一笔硬币变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录交易前后余额 —— 便于校验余额一致性
// 3. EXPIRED 流水通过 source_tx_id 指向被核销的 CREDIT 流水 —— 过期任务据此幂等
//
// 过期消耗顺序为 FIFO：DEBIT 先消耗 created_at 最早的 CREDIT 批次
type WalletTransaction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        int64      `gorm:"index;not null" json:"user_id"`                               // 用户ID
	Amount        int64      `gorm:"not null" json:"amount"`                                      // 硬币数（恒为正，方向由 type 决定）
	Type          string     `gorm:"type:varchar(20);index;not null" json:"type"`                 // 交易类型
	Description   string     `gorm:"type:varchar(256)" json:"description"`                        // 描述
	BalanceBefore int64      `gorm:"not null" json:"balance_before"`                              // 交易前余额
	BalanceAfter  int64      `gorm:"not null" json:"balance_after"`                               // 交易后余额
	ExpiresAt     *time.Time `gorm:"index" json:"expires_at"`                                     // 过期时间（仅 CREDIT 有值）
	SourceTxID    int64      `gorm:"index;default:0" json:"source_tx_id"`                         // EXPIRED 流水指向的 CREDIT 流水ID
	ReferenceType string     `gorm:"type:varchar(32)" json:"reference_type"`                      // 关联业务类型（如 ORDER）
	ReferenceID   string     `gorm:"type:varchar(64)" json:"reference_id"`                        // 关联业务ID
	ReferenceKey  *string    `gorm:"type:varchar(191);uniqueIndex" json:"-"`                      // 幂等唯一键（无关联单据时为 NULL）
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// DebitReferenceKey 兑换流水的幂等唯一键
// 同一用户同一业务单据的 DEBIT 在数据库层面只允许存在一条；
// 无关联单据的流水返回 nil，NULL 不参与唯一约束
func DebitReferenceKey(userID int64, referenceType, referenceID string) *string {
	if referenceType == "" || referenceID == "" {
		return nil
	}
	key := fmt.Sprintf("%d:%s:%s:%s", userID, TransactionTypeDebit, referenceType, referenceID)
	return &key
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
