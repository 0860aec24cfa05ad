package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 保存服务运行所需的全部配置，启动时从环境变量加载一次，
// 之后以值传递给各组件。
type Config struct {
	Environment string
	ServerPort  string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTExpiry time.Duration

	// 登录接口限流：每个IP在窗口期内允许的尝试次数
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// 投票接口限流（每秒每IP）
	VoteRatePerSecond int
	VoteRateBurst     int
}

// Load 从环境变量读取配置并填入默认值
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("SERVER_PORT", "8090")

	v.SetDefault("DB_USER", "classuser")
	v.SetDefault("DB_PASSWORD", "classpassword")
	v.SetDefault("DB_HOST", "mysql")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_NAME", "classpolldb")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "class-website-secret-key")
	v.SetDefault("JWT_EXPIRES_IN", "24h")

	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")
	v.SetDefault("VOTE_RATE_PER_SECOND", 10)
	v.SetDefault("VOTE_RATE_BURST", 20)

	expiry, err := time.ParseDuration(v.GetString("JWT_EXPIRES_IN"))
	if err != nil {
		return nil, fmt.Errorf("解析JWT_EXPIRES_IN失败: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("LOGIN_RATE_WINDOW"))
	if err != nil {
		return nil, fmt.Errorf("解析LOGIN_RATE_WINDOW失败: %w", err)
	}

	cfg := &Config{
		Environment:       v.GetString("ENVIRONMENT"),
		ServerPort:        v.GetString("SERVER_PORT"),
		DBUser:            v.GetString("DB_USER"),
		DBPassword:        v.GetString("DB_PASSWORD"),
		DBHost:            v.GetString("DB_HOST"),
		DBPort:            v.GetString("DB_PORT"),
		DBName:            v.GetString("DB_NAME"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		JWTExpiry:         expiry,
		LoginRateLimit:    v.GetInt("LOGIN_RATE_LIMIT"),
		LoginRateWindow:   window,
		VoteRatePerSecond: v.GetInt("VOTE_RATE_PER_SECOND"),
		VoteRateBurst:     v.GetInt("VOTE_RATE_BURST"),
	}

	return cfg, nil
}

// DSN 构建MySQL连接字符串
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
