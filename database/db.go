package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"class-poll-backend/auth"
	"class-poll-backend/config"
	"class-poll-backend/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 建立MySQL连接并完成模型迁移。
// 连接对象由调用方持有并注入到各处理器，进程退出时调用Close。
func Open(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接失败: %w", err)
	}
	configurePool(sqlDB)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	// 开发环境下保证有一个可用的管理员账号
	if !cfg.IsProduction() {
		if err := SeedAdmin(db, "admin", "admin123", "系统管理员"); err != nil {
			log.Printf("创建默认管理员失败: %v", err)
		}
	}

	log.Println("数据库连接和迁移成功")
	return db, nil
}

// configurePool 设置连接池参数
func configurePool(sqlDB *sql.DB) {
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

// Migrate 执行模型自动迁移
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Admin{},
		&models.Poll{},
		&models.PollOption{},
		&models.Vote{},
	); err != nil {
		return fmt.Errorf("迁移模型失败: %w", err)
	}
	return nil
}

// SeedAdmin 创建管理员账号（已存在时跳过）
func SeedAdmin(db *gorm.DB, username, password, name string) error {
	var count int64
	if err := db.Model(&models.Admin{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.Admin{Username: username, Password: hashed, Name: name}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	log.Printf("已创建管理员账号: %s", username)
	return nil
}

// Close 关闭底层数据库连接
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("获取数据库连接失败: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("关闭数据库连接失败: %v", err)
		return
	}

	log.Println("数据库连接已关闭")
}
