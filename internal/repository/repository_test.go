package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"coinwallet/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate",
		filepath.Join(t.TempDir(), "wallet.db"))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Wallet{},
		&model.WalletTransaction{},
		&model.Notification{},
		&model.OutboxMessage{},
	))

	return db
}

func TestWalletGetOrCreate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	wallet, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), wallet.UserID)
	require.Equal(t, int64(0), wallet.Balance)

	// 重复调用返回同一行
	again, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, wallet.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", 1).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestWalletDeductConditional(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, 1, 100))

	require.NoError(t, repo.Deduct(ctx, db, 1, 60))

	// 余额不足时条件更新零行命中
	err = repo.Deduct(ctx, db, 1, 60)
	require.ErrorIs(t, err, ErrBalanceNotEnough)

	wallet, err := repo.GetByUserID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(40), wallet.Balance)
	require.Equal(t, int64(60), wallet.RedeemedBalance)
}

func TestDeductExpiredSkipsRedeemedStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, 1, 100))

	require.NoError(t, repo.DeductExpired(ctx, db, 1, 30))

	wallet, err := repo.GetByUserID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(70), wallet.Balance)
	// 过期核销不计入兑换统计
	require.Equal(t, int64(0), wallet.RedeemedBalance)
}

func TestListUsersWithDueCredits(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	seed := []*model.WalletTransaction{
		// 用户1：有到期未处理的入账
		{TransactionNo: "T1", UserID: 1, Amount: 100, Type: model.TransactionTypeCredit, ExpiresAt: &past},
		// 用户2：入账未到期
		{TransactionNo: "T2", UserID: 2, Amount: 100, Type: model.TransactionTypeCredit, ExpiresAt: &future},
		// 用户3：入账不过期
		{TransactionNo: "T3", UserID: 3, Amount: 100, Type: model.TransactionTypeCredit},
		// 用户4：到期入账已被核销
		{TransactionNo: "T4", UserID: 4, Amount: 100, Type: model.TransactionTypeCredit, ExpiresAt: &past},
	}
	for _, tx := range seed {
		require.NoError(t, repo.Create(ctx, db, tx))
	}
	require.NoError(t, repo.Create(ctx, db, &model.WalletTransaction{
		TransactionNo: "T5", UserID: 4, Amount: 100,
		Type: model.TransactionTypeExpired, SourceTxID: seed[3].ID,
	}))

	userIDs, err := repo.ListUsersWithDueCredits(ctx, now, 100)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, userIDs)
}

func TestGetByReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, db, &model.WalletTransaction{
		TransactionNo: "T1", UserID: 1, Amount: 30,
		Type: model.TransactionTypeDebit, ReferenceType: "order", ReferenceID: "ORD-1",
	}))

	found, err := repo.GetByReference(ctx, nil, 1, model.TransactionTypeDebit, "order", "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "T1", found.TransactionNo)

	missing, err := repo.GetByReference(ctx, nil, 1, model.TransactionTypeDebit, "order", "ORD-2")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestNotificationMarkReadScopedToUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	n := &model.Notification{UserID: 1, Title: "测试", Message: "内容", Type: model.NotificationTypeSystem}
	require.NoError(t, repo.Create(ctx, db, n))

	// 他人无法操作
	err := repo.MarkRead(ctx, n.ID, 2)
	require.ErrorIs(t, err, ErrNotificationNotFound)

	require.NoError(t, repo.MarkRead(ctx, n.ID, 1))

	count, err := repo.CountUnread(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestOutboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{
		Topic:      "wallet-events",
		MessageKey: "1",
		Payload:    `{"user_id":1}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, repo.Create(ctx, db, msg))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkSent(ctx, msg.ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	// 保留期外的已发送消息被清理
	deleted, err := repo.DeleteSentBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
