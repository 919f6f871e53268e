package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sigbridge/config"
	"sigbridge/trader"
)

// Server HTTP API服务器
// 对外只有 webhook 和健康检查；管理接口（持仓、去重统计、报告）要登录
type Server struct {
	router    *gin.Engine
	engine    *trader.Engine
	store     *trader.PositionStore
	db        *config.Database
	cfg       *config.Config
	metrics   *Metrics
	startedAt time.Time
}

// NewServer 创建API服务器
func NewServer(cfg *config.Config, engine *trader.Engine, store *trader.PositionStore, db *config.Database, metrics *Metrics) *Server {
	// 设置为Release模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		engine:    engine,
		store:     store,
		db:        db,
		cfg:       cfg,
		metrics:   metrics,
		startedAt: time.Now(),
	}

	s.setupRoutes()

	return s
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// TradingView webhook（密钥在报文体里校验，不走登录）
	s.router.POST("/tv", s.handleWebhook)

	// 健康检查
	s.router.GET("/health", s.handleHealth)

	// Prometheus 指标
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.POST("/login", s.handleLogin)

		protected := api.Group("")
		protected.Use(s.authMiddleware())
		{
			protected.GET("/positions", s.handlePositions)
			protected.GET("/dedup", s.handleDedup)
			protected.GET("/report", s.handleReport)
			protected.GET("/debug/:symbol_tv", s.handleDebug)
		}
	}
}

// Handler 暴露给 http.Server，便于优雅停机
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 监听地址
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.cfg.APIPort)
}
