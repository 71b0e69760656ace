package repository

import (
	"context"
	"errors"

	"coinwallet/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get 读取单行配置，不存在时返回默认值（钱包开启、无限制）
func (r *SettingsRepository) Get(ctx context.Context) (*model.WalletSettings, error) {
	var settings model.WalletSettings
	err := r.db.WithContext(ctx).Where("id = ?", model.SettingsID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.WalletSettings{
				ID:             model.SettingsID,
				IsActive:       true,
				ConversionRate: 1,
			}, nil
		}
		return nil, err
	}
	return &settings, nil
}

// Save 管理端更新配置，单行 upsert
func (r *SettingsRepository) Save(ctx context.Context, settings *model.WalletSettings) error {
	settings.ID = model.SettingsID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(settings).Error
}
