package service

import (
	"fmt"
	"path/filepath"
	"testing"

	"coinwallet/internal/config"
	"coinwallet/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 每个测试独立的文件库
// _txlock=immediate 让并发事务一开始就拿写锁，配合 busy_timeout 排队等待，
// 避免 SQLite 读锁升级死锁
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
		&model.WalletSettings{},
		&model.Notification{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{WalletEvents: "wallet-events"},
		},
		Business: config.BusinessConfig{
			ExpirySweepIntervalSeconds: 60,
			ExpirySweepBatchSize:       100,
			MaxRetryCount:              5,
		},
	}
}

func seedSettings(t *testing.T, db *gorm.DB, settings *model.WalletSettings) {
	t.Helper()
	settings.ID = model.SettingsID
	// Create 时 GORM 会用 default 标签值替换零值字段并回写结构体（false 被写成 true），
	// 先保存测试指定的开关状态，再用单列 Update 强制写入
	isActive := settings.IsActive
	require.NoError(t, db.Create(settings).Error)
	require.NoError(t, db.Model(&model.WalletSettings{}).
		Where("id = ?", model.SettingsID).
		Update("is_active", isActive).Error)
	settings.IsActive = isActive
}

func activeSettings() *model.WalletSettings {
	return &model.WalletSettings{
		IsActive:       true,
		ConversionRate: 1,
	}
}
