package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"class-poll-backend/auth"
	"class-poll-backend/cache"
	"class-poll-backend/config"
	"class-poll-backend/database"
	"class-poll-backend/routes"
	ws "class-poll-backend/websocket"

	"github.com/joho/godotenv"
)

func main() {
	// 本地开发时从.env读取配置，文件不存在则忽略
	if err := godotenv.Load(); err == nil {
		log.Println("已加载.env配置")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}

	// Redis不可用时为nil，投票走纯数据库路径
	rdb := cache.Connect(cfg)
	locks := cache.NewLockService(rdb)

	hub := ws.NewHub()
	go hub.Run()

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)

	router := routes.SetupRouter(routes.Deps{
		DB:     db,
		RDB:    rdb,
		Locks:  locks,
		Hub:    hub,
		Tokens: tokens,
		Config: cfg,
	})

	srv := routes.StartServer(router, cfg)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	database.Close(db)
	cache.Close(rdb)

	log.Println("服务器优雅关闭")
}
