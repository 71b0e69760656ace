package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coinwallet/internal/config"
	"coinwallet/internal/model"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}

// ============================================================
// 钱包配置快照缓存
// ============================================================

const settingsCacheKey = "wallet:settings:snapshot"

// SettingsCache 钱包配置读多写少，兑换链路每次都要读取，
// 用短 TTL 快照缓存挡住数据库，管理端更新后主动失效
type SettingsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSettingsCache(client *redis.Client, ttl time.Duration) *SettingsCache {
	return &SettingsCache{client: client, ttl: ttl}
}

func (c *SettingsCache) Get(ctx context.Context) (*model.WalletSettings, error) {
	data, err := c.client.Get(ctx, settingsCacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var settings model.WalletSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (c *SettingsCache) Set(ctx context.Context, settings *model.WalletSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsCacheKey, data, c.ttl).Err()
}

func (c *SettingsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, settingsCacheKey).Err()
}
