package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coinwallet/internal/config"
	"coinwallet/internal/model"
	"coinwallet/internal/repository"
	"coinwallet/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount  = errors.New("金额必须为正整数")
	ErrWalletDisabled = errors.New("钱包功能未开启")
)

type WalletService struct {
	db                  *gorm.DB
	cfg                 *config.Config
	walletRepo          *repository.WalletRepository
	transactionRepo     *repository.TransactionRepository
	settingsService     *SettingsService
	notificationService *NotificationService
}

func NewWalletService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WalletService {
	return &WalletService{
		db:                  db,
		cfg:                 cfg,
		walletRepo:          repository.NewWalletRepository(db),
		transactionRepo:     repository.NewTransactionRepository(db),
		settingsService:     NewSettingsService(db, redisClient),
		notificationService: NewNotificationService(db, cfg),
	}
}

// GetBalance 查询余额
// 钱包懒初始化：不存在时返回零余额快照而不是报错
func (s *WalletService) GetBalance(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, err
	}
	return wallet, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

type CreditRequest struct {
	UserID      int64
	Amount      int64
	Description string
	ExpiresAt   *time.Time
}

// Credit 积分入账
//
// 【关键点】余额增加、流水落库、推送事件必须在同一事务内，
// 任何一步失败整体回滚，避免账实不符
func (s *WalletService) Credit(ctx context.Context, req *CreditRequest) (*model.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}

	var transaction *model.WalletTransaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("锁定钱包失败: %w", err)
		}

		if err := s.walletRepo.Increase(ctx, tx, req.UserID, req.Amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		transaction = &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Amount:        req.Amount,
			Type:          model.TransactionTypeCredit,
			Description:   req.Description,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance + req.Amount,
			ExpiresAt:     req.ExpiresAt,
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		notification := &model.Notification{
			UserID:  req.UserID,
			Title:   "硬币到账",
			Message: fmt.Sprintf("您获得了 %d 个硬币：%s", req.Amount, req.Description),
			Type:    model.NotificationTypeWallet,
			Link:    "/wallet",
		}
		return s.notificationService.CreateInTx(ctx, tx, notification)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("入账成功: userID=%d, amount=%d, txNo=%s", req.UserID, req.Amount, transaction.TransactionNo)
	return transaction, nil
}

// FirstPurchaseBonus 首购奖励入账
// 钱包关闭或奖励为 0 时静默跳过，由订单流程在首单完成后调用
func (s *WalletService) FirstPurchaseBonus(ctx context.Context, userID int64) (*model.WalletTransaction, error) {
	settings, err := s.settingsService.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if !settings.IsActive || settings.FirstPurchaseCoins <= 0 {
		return nil, nil
	}

	var expiresAt *time.Time
	if settings.ExpiryDays > 0 {
		t := time.Now().AddDate(0, 0, settings.ExpiryDays)
		expiresAt = &t
	}

	return s.Credit(ctx, &CreditRequest{
		UserID:      userID,
		Amount:      settings.FirstPurchaseCoins,
		Description: "首购奖励",
		ExpiresAt:   expiresAt,
	})
}

// ExpireOldCredits 过期核销
//
// 【关键点】消耗顺序为 FIFO：兑换先消耗最早入账的批次，
// 过期时只核销该批次未被消耗的剩余部分。
//
// 幂等性：每个到期批次恰好生成一条 EXPIRED 流水（指向批次ID），
// 已有 EXPIRED 流水的批次不再处理，重复执行不会重复扣减。
// 全部被消耗的到期批次也会生成一条 0 金额流水作为核销标记
func (s *WalletService) ExpireOldCredits(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var totalExpired int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrWalletNotFound) {
				return nil
			}
			return fmt.Errorf("锁定钱包失败: %w", err)
		}

		transactions, err := s.transactionRepo.ListAllByUserIDAsc(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("读取流水失败: %w", err)
		}

		remainders := CreditRemainders(transactions)
		handled := expiredSources(transactions)

		balance := wallet.Balance
		for _, t := range transactions {
			if t.Type != model.TransactionTypeCredit || t.ExpiresAt == nil {
				continue
			}
			if t.ExpiresAt.After(now) || handled[t.ID] {
				continue
			}

			remainder := remainders[t.ID]

			expired := &model.WalletTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        userID,
				Amount:        remainder,
				Type:          model.TransactionTypeExpired,
				Description:   fmt.Sprintf("积分批次过期：%s", t.Description),
				BalanceBefore: balance,
				BalanceAfter:  balance - remainder,
				SourceTxID:    t.ID,
			}
			if err := s.transactionRepo.Create(ctx, tx, expired); err != nil {
				return fmt.Errorf("记录过期流水失败: %w", err)
			}

			if remainder > 0 {
				if err := s.walletRepo.DeductExpired(ctx, tx, userID, remainder); err != nil {
					return fmt.Errorf("过期扣减失败: %w", err)
				}
				balance -= remainder
				totalExpired += remainder
			}
		}

		if totalExpired > 0 {
			notification := &model.Notification{
				UserID:  userID,
				Title:   "硬币已过期",
				Message: fmt.Sprintf("您有 %d 个硬币已过期", totalExpired),
				Type:    model.NotificationTypeWallet,
				Link:    "/wallet",
			}
			return s.notificationService.CreateInTx(ctx, tx, notification)
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	if totalExpired > 0 {
		log.Printf("过期核销完成: userID=%d, expired=%d", userID, totalExpired)
	}
	return totalExpired, nil
}

// CreditRemainders 按发生顺序重放流水，计算每个 CREDIT 批次的剩余金额
//
// 重放规则：
//   - CREDIT：新建批次池
//   - DEBIT：按 FIFO 从最早的未耗尽批次开始消耗
//   - EXPIRED：直接核销其指向批次的剩余（发生在它之后的 DEBIT 不会再消耗该批次）
func CreditRemainders(transactions []*model.WalletTransaction) map[int64]int64 {
	remainders := make(map[int64]int64)
	var creditOrder []int64

	for _, t := range transactions {
		switch t.Type {
		case model.TransactionTypeCredit:
			remainders[t.ID] = t.Amount
			creditOrder = append(creditOrder, t.ID)

		case model.TransactionTypeDebit:
			left := t.Amount
			for _, id := range creditOrder {
				if left == 0 {
					break
				}
				take := remainders[id]
				if take > left {
					take = left
				}
				remainders[id] -= take
				left -= take
			}

		case model.TransactionTypeExpired:
			if remaining, ok := remainders[t.SourceTxID]; ok {
				remaining -= t.Amount
				if remaining < 0 {
					remaining = 0
				}
				remainders[t.SourceTxID] = remaining
			}
		}
	}

	return remainders
}

// expiredSources 已被 EXPIRED 流水核销过的批次ID集合
func expiredSources(transactions []*model.WalletTransaction) map[int64]bool {
	handled := make(map[int64]bool)
	for _, t := range transactions {
		if t.Type == model.TransactionTypeExpired {
			handled[t.SourceTxID] = true
		}
	}
	return handled
}
