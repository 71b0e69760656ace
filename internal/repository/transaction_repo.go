package repository

import (
	"context"
	"time"

	"coinwallet/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// GetByReference 按业务关联查找流水，兑换幂等校验用
// 传入事务句柄时在事务内查询：锁内复查必须看到并发事务已提交的流水
func (r *TransactionRepository) GetByReference(ctx context.Context, tx *gorm.DB, userID int64, txType, referenceType, referenceID string) (*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND type = ? AND reference_type = ? AND reference_id = ?",
			userID, txType, referenceType, referenceID).
		First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListAllByUserIDAsc 按发生顺序读取用户全部流水，过期核销重放用
func (r *TransactionRepository) ListAllByUserIDAsc(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListUsersWithDueCredits 查找存在到期且尚未核销的 CREDIT 批次的用户
// 已核销批次由指向它的 EXPIRED 流水排除，保证任务不会反复扫同一批
func (r *TransactionRepository) ListUsersWithDueCredits(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Distinct("user_id").
		Where("type = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.TransactionTypeCredit, now).
		Where("id NOT IN (?)", r.db.Model(&model.WalletTransaction{}).
			Select("source_tx_id").
			Where("type = ?", model.TransactionTypeExpired)).
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
