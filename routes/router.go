package routes

import (
	"log"
	"net/http"
	"time"

	"class-poll-backend/auth"
	"class-poll-backend/cache"
	"class-poll-backend/config"
	"class-poll-backend/handlers"
	"class-poll-backend/middleware"
	ws "class-poll-backend/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// Deps 路由所需的全部依赖，在进程启动时构造一次
type Deps struct {
	DB     *gorm.DB
	RDB    *redis.Client
	Locks  *cache.LockService
	Hub    *ws.Hub
	Tokens *auth.TokenService
	Config *config.Config
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	pollHandler := handlers.NewPollHandler(deps.DB, deps.RDB)
	voteHandler := handlers.NewVoteHandler(deps.DB, deps.RDB, deps.Locks, deps.Hub)
	resultHandler := handlers.NewResultHandler(deps.DB, deps.RDB)
	authHandler := handlers.NewAuthHandler(deps.DB, deps.Tokens)
	healthHandler := handlers.NewHealthHandler(deps.DB)
	wsHandler := ws.NewHandler(deps.Hub)

	authRequired := middleware.AuthRequired(deps.DB, deps.Tokens)
	voteLimiter := middleware.NewVoteLimiter(deps.Config.VoteRatePerSecond, deps.Config.VoteRateBurst)
	loginLimiter := middleware.NewLoginLimiter(deps.Config.LoginRateLimit, deps.Config.LoginRateWindow)

	api := router.Group("/api")
	{
		api.GET("/health", healthHandler.HealthCheck)
		api.GET("/status", healthHandler.SystemStatus)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", loginLimiter.Middleware(), authHandler.Login)
			authGroup.GET("/me", authRequired, authHandler.Me)
		}

		polls := api.Group("/polls")
		{
			// 公开接口
			polls.GET("", pollHandler.GetPolls)
			polls.GET("/:id", pollHandler.GetPoll)
			polls.GET("/:id/results", resultHandler.GetPollResults)
			polls.GET("/:id/check-voted", voteHandler.CheckVoted)
			polls.POST("/:id/vote", voteLimiter.Middleware(), voteHandler.SubmitVote)
			polls.GET("/:id/live", wsHandler.Serve)

			// 管理员接口
			polls.POST("", authRequired, pollHandler.CreatePoll)
			polls.PUT("/:id", authRequired, pollHandler.UpdatePoll)
			polls.DELETE("/:id", authRequired, pollHandler.DeletePoll)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine, cfg *config.Config) *Server {
	addr := ":" + cfg.ServerPort

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
