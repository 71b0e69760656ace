package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"coinwallet/internal/config"
	"coinwallet/internal/infrastructure/lock"
	"coinwallet/internal/model"
	"coinwallet/internal/repository"
	"coinwallet/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = repository.ErrBalanceNotEnough
	ErrBelowMinCartValue   = errors.New("订单金额未达到硬币抵扣门槛")
	ErrExceedsMaxUsage     = errors.New("超出单笔订单最高抵扣比例")
	ErrCategoryNotEligible = errors.New("该类目不支持硬币抵扣")
)

type RedeemService struct {
	db                  *gorm.DB
	redisClient         *redis.Client
	cfg                 *config.Config
	walletRepo          *repository.WalletRepository
	transactionRepo     *repository.TransactionRepository
	settingsService     *SettingsService
	notificationService *NotificationService
}

func NewRedeemService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RedeemService {
	return &RedeemService{
		db:                  db,
		redisClient:         redisClient,
		cfg:                 cfg,
		walletRepo:          repository.NewWalletRepository(db),
		transactionRepo:     repository.NewTransactionRepository(db),
		settingsService:     NewSettingsService(db, redisClient),
		notificationService: NewNotificationService(db, cfg),
	}
}

type RedeemRequest struct {
	UserID        int64   `json:"user_id"`
	Amount        int64   `json:"amount"`
	Description   string  `json:"description"`
	ReferenceType string  `json:"reference_type"`
	ReferenceID   string  `json:"reference_id"`
	OrderValue    float64 `json:"order_value"`
	Category      string  `json:"category"`
}

type RedeemResponse struct {
	Transaction    *model.WalletTransaction `json:"transaction"`
	VoucherCode    string                   `json:"voucher_code"`
	DiscountAmount float64                  `json:"discount_amount"`
	Message        string                   `json:"message,omitempty"`
}

// Redeem 硬币兑换
//
// 前置校验按固定顺序执行，每种失败返回独立错误：
// 钱包开关 -> 金额合法 -> 余额充足 -> 最低订单金额 -> 最高抵扣比例 -> 类目限制
//
// 【关键点】余额校验和扣减由一条条件更新完成（WHERE balance >= amount），
// 并发兑换总额不可能超过余额；分布式锁只是减少无效竞争，不是正确性来源
func (s *RedeemService) Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error) {
	settings, err := s.settingsService.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if !settings.IsActive {
		return nil, ErrWalletDisabled
	}

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}
	if wallet.Balance < req.Amount {
		return nil, ErrInsufficientBalance
	}

	if settings.MinCartValue > 0 && req.OrderValue > 0 && req.OrderValue < settings.MinCartValue {
		return nil, ErrBelowMinCartValue
	}

	discount := discountValue(req.Amount, settings.ConversionRate)
	if settings.MaxUsagePercentage > 0 && req.OrderValue > 0 {
		maxDiscount := req.OrderValue * settings.MaxUsagePercentage / 100
		if discount > maxDiscount {
			return nil, ErrExceedsMaxUsage
		}
	}

	if req.Category != "" && !settings.CategoryAllowed(req.Category) {
		return nil, ErrCategoryNotEligible
	}

	// 幂等快速路径：同一业务单据的兑换只执行一次
	// 并发下此检查可能双双通过，正确性由事务内锁后复查兜底
	if req.ReferenceType != "" && req.ReferenceID != "" {
		existing, err := s.transactionRepo.GetByReference(ctx, nil, req.UserID,
			model.TransactionTypeDebit, req.ReferenceType, req.ReferenceID)
		if err != nil {
			return nil, fmt.Errorf("查询流水失败: %w", err)
		}
		if existing != nil {
			return &RedeemResponse{
				Transaction:    existing,
				DiscountAmount: discountValue(existing.Amount, settings.ConversionRate),
				Message:        "兑换已处理，请勿重复操作",
			}, nil
		}
	}

	// 分布式锁未配置时（本地测试）直接依赖条件更新兜底
	if s.redisClient != nil {
		redeemLock := lock.NewRedeemLock(s.redisClient, req.UserID, req.ReferenceID)
		if err := redeemLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer redeemLock.Unlock(ctx)
	}

	description := req.Description
	if description == "" {
		description = "硬币兑换"
	}

	var transaction *model.WalletTransaction
	var duplicate *model.WalletTransaction

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 先锁钱包行再复查幂等：同一用户的兑换在行锁上串行，
		// 锁内查询能看到并发事务已提交的 DEBIT，锁前的快速检查挡不住同单据并发
		current, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("读取钱包失败: %w", err)
		}

		if req.ReferenceType != "" && req.ReferenceID != "" {
			existing, err := s.transactionRepo.GetByReference(ctx, tx, req.UserID,
				model.TransactionTypeDebit, req.ReferenceType, req.ReferenceID)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if existing != nil {
				duplicate = existing
				return nil
			}
		}

		if err := s.walletRepo.Deduct(ctx, tx, req.UserID, req.Amount); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("扣减失败: %w", err)
		}

		transaction = &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Amount:        req.Amount,
			Type:          model.TransactionTypeDebit,
			Description:   description,
			BalanceBefore: current.Balance,
			BalanceAfter:  current.Balance - req.Amount,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			// 唯一键兜底：即使锁失效，数据库也拒绝同单据的第二条 DEBIT
			ReferenceKey: model.DebitReferenceKey(req.UserID, req.ReferenceType, req.ReferenceID),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		notification := &model.Notification{
			UserID:  req.UserID,
			Title:   "硬币兑换成功",
			Message: fmt.Sprintf("您使用 %d 个硬币抵扣了 %.2f 元", req.Amount, discount),
			Type:    model.NotificationTypeWallet,
			Link:    "/wallet",
		}
		return s.notificationService.CreateInTx(ctx, tx, notification)
	})

	if err != nil {
		return nil, err
	}

	if duplicate != nil {
		return &RedeemResponse{
			Transaction:    duplicate,
			DiscountAmount: discountValue(duplicate.Amount, settings.ConversionRate),
			Message:        "兑换已处理，请勿重复操作",
		}, nil
	}

	voucherCode := idgen.GenerateVoucherCode()

	log.Printf("兑换成功: userID=%d, amount=%d, discount=%.2f, voucher=%s",
		req.UserID, req.Amount, discount, voucherCode)

	return &RedeemResponse{
		Transaction:    transaction,
		VoucherCode:    voucherCode,
		DiscountAmount: discount,
		Message:        "兑换成功",
	}, nil
}

// discountValue 硬币数折算货币金额，比率为"多少硬币抵1个货币单位"
func discountValue(amount int64, conversionRate float64) float64 {
	if conversionRate <= 0 {
		conversionRate = 1
	}
	// 保留两位小数
	return math.Round(float64(amount)/conversionRate*100) / 100
}
