package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"class-poll-backend/auth"
	"class-poll-backend/database"
	"class-poll-backend/middleware"
	"class-poll-backend/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testVoterIP = "10.1.2.3"

// SetupTestEnvironment builds the Gin router and an in-memory SQLite
// database mirroring the production route table.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB, *auth.TokenService) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	// SQLite只允许单写者，串行化连接池避免测试中的SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to access underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	tokens := auth.NewTokenService("test-secret", time.Hour)

	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(config))

	// Redis、分布式锁和WebSocket Hub在单元测试中置空，
	// 投票走纯数据库路径。限流中间件单独在middleware包测试。
	pollHandler := NewPollHandler(db, nil)
	voteHandler := NewVoteHandler(db, nil, nil, nil)
	resultHandler := NewResultHandler(db, nil)
	authHandler := NewAuthHandler(db, tokens)
	healthHandler := NewHealthHandler(db)
	authRequired := middleware.AuthRequired(db, tokens)

	api := router.Group("/api")
	{
		api.GET("/health", healthHandler.HealthCheck)
		api.GET("/status", healthHandler.SystemStatus)

		api.POST("/auth/login", authHandler.Login)
		api.GET("/auth/me", authRequired, authHandler.Me)

		api.GET("/polls", pollHandler.GetPolls)
		api.GET("/polls/:id", pollHandler.GetPoll)
		api.GET("/polls/:id/results", resultHandler.GetPollResults)
		api.GET("/polls/:id/check-voted", voteHandler.CheckVoted)
		api.POST("/polls/:id/vote", voteHandler.SubmitVote)

		api.POST("/polls", authRequired, pollHandler.CreatePoll)
		api.PUT("/polls/:id", authRequired, pollHandler.UpdatePoll)
		api.DELETE("/polls/:id", authRequired, pollHandler.DeletePoll)
	}

	return router, db, tokens
}

// ClearTables 清空各表，注意外键顺序
func ClearTables(db *gorm.DB) {
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Vote{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.PollOption{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Poll{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Admin{})
}

// CreateTestAdmin 创建测试管理员并返回其令牌
func CreateTestAdmin(t *testing.T, db *gorm.DB, tokens *auth.TokenService) (*models.Admin, string) {
	t.Helper()

	hashed, err := auth.HashPassword("admin123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	admin := models.Admin{Username: "admin", Password: hashed, Name: "测试管理员"}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}

	token, err := tokens.Generate(admin.ID, admin.Username)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	return &admin, token
}

// newJSONRequest 构造带来源IP的JSON请求，body为nil时不带请求体
func newJSONRequest(method, url string, body interface{}, ip string) *http.Request {
	var req *http.Request
	if body != nil {
		data, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, bytes.NewBuffer(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	req.RemoteAddr = ip + ":12345"
	return req
}

// perform 执行请求并返回录制的响应
func perform(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// envelope 统一响应包裹
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode response envelope: %v (body: %s)", err, w.Body.String())
	}
	return env
}

// createTestPoll 直接在数据库中建一个投票
func createTestPoll(t *testing.T, db *gorm.DB, poll *models.Poll) *models.Poll {
	t.Helper()
	if poll.MaxChoices == 0 {
		poll.MaxChoices = 1
	}
	if poll.EndDate.IsZero() {
		poll.EndDate = time.Now().Add(24 * time.Hour)
	}
	if err := db.Create(poll).Error; err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}
	return poll
}
