package job

import (
	"context"
	"log"
	"time"

	"coinwallet/internal/config"
	"coinwallet/internal/repository"
	"coinwallet/internal/service"

	"gorm.io/gorm"
)

// ExpirySweepJob 过期核销任务
// 周期性扫描存在到期未核销批次的用户，逐用户执行核销。
// 核销本身幂等（见 WalletService.ExpireOldCredits），
// 任务重复执行、多实例部署都不会重复扣减
type ExpirySweepJob struct {
	db              *gorm.DB
	walletService   *service.WalletService
	transactionRepo *repository.TransactionRepository
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewExpirySweepJob(db *gorm.DB, walletService *service.WalletService, cfg *config.Config) *ExpirySweepJob {
	interval := time.Duration(cfg.Business.ExpirySweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.Business.ExpirySweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &ExpirySweepJob{
		db:              db,
		walletService:   walletService,
		transactionRepo: repository.NewTransactionRepository(db),
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       batchSize,
	}
}

func (j *ExpirySweepJob) Start(ctx context.Context) {
	log.Println("[ExpirySweepJob] 过期核销任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirySweepJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpirySweepJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ExpirySweepJob) Stop() {
	close(j.stopCh)
}

func (j *ExpirySweepJob) sweep(ctx context.Context) {
	now := time.Now()

	userIDs, err := j.transactionRepo.ListUsersWithDueCredits(ctx, now, j.batchSize)
	if err != nil {
		log.Printf("[ExpirySweepJob] 查询到期批次失败: %v", err)
		return
	}

	if len(userIDs) == 0 {
		return
	}

	log.Printf("[ExpirySweepJob] 发现 %d 个用户存在到期批次", len(userIDs))

	var totalExpired int64
	for _, userID := range userIDs {
		expired, err := j.walletService.ExpireOldCredits(ctx, userID, now)
		if err != nil {
			log.Printf("[ExpirySweepJob] 核销失败: userID=%d, err=%v", userID, err)
			continue
		}
		totalExpired += expired
	}

	log.Printf("[ExpirySweepJob] 本次核销 %d 个硬币", totalExpired)
}
