package service

import (
	"context"
	"log"
	"time"

	"coinwallet/internal/infrastructure/cache"
	"coinwallet/internal/model"
	"coinwallet/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type SettingsService struct {
	settingsRepo  *repository.SettingsRepository
	settingsCache *cache.SettingsCache
}

// NewSettingsService redisClient 可为空（测试环境），此时直接读库
func NewSettingsService(db *gorm.DB, redisClient *redis.Client) *SettingsService {
	s := &SettingsService{
		settingsRepo: repository.NewSettingsRepository(db),
	}
	if redisClient != nil {
		s.settingsCache = cache.NewSettingsCache(redisClient, 30*time.Second)
	}
	return s
}

// Get 读取配置快照，优先走缓存
// 缓存故障只记日志不报错，配置读取不能因为 Redis 挂掉而失败
func (s *SettingsService) Get(ctx context.Context) (*model.WalletSettings, error) {
	if s.settingsCache != nil {
		settings, err := s.settingsCache.Get(ctx)
		if err != nil {
			log.Printf("[SettingsService] 读取配置缓存失败: %v", err)
		} else if settings != nil {
			return settings, nil
		}
	}

	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return nil, err
	}

	if s.settingsCache != nil {
		if err := s.settingsCache.Set(ctx, settings); err != nil {
			log.Printf("[SettingsService] 回填配置缓存失败: %v", err)
		}
	}

	return settings, nil
}

// Update 管理端更新配置并失效缓存
func (s *SettingsService) Update(ctx context.Context, settings *model.WalletSettings) error {
	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return err
	}

	if s.settingsCache != nil {
		if err := s.settingsCache.Invalidate(ctx); err != nil {
			log.Printf("[SettingsService] 失效配置缓存失败: %v", err)
		}
	}

	return nil
}
