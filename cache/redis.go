package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"class-poll-backend/config"

	"github.com/redis/go-redis/v9"
)

const (
	// 投票去重标记的保留时间
	VoteMarkerTTL = 24 * time.Hour
	// 结果缓存过期时间
	ResultTTL = 1 * time.Hour
)

// Connect 建立Redis连接。Redis不可用时返回nil客户端，
// 调用方必须容忍nil并退化为纯数据库路径。
func Connect(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("Redis连接失败: %v，去重快路径和结果缓存将被禁用", err)
		_ = client.Close()
		return nil
	}

	log.Printf("Redis连接初始化成功, 地址: %s", cfg.RedisAddr)
	return client
}

// Close 关闭Redis连接
func Close(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Printf("关闭Redis连接失败: %v", err)
	}
}

// VoteMarkerKey 某IP对某投票的已投标记键
func VoteMarkerKey(pollID uint, voterIP string) string {
	return fmt.Sprintf("vote_lock:poll:%d:ip:%s", pollID, voterIP)
}

// ResultKey 投票结果缓存键
func ResultKey(pollID uint) string {
	return fmt.Sprintf("poll:%d:results", pollID)
}
