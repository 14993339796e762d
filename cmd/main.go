package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gemini-relay/config"
	"gemini-relay/core"
	"gemini-relay/core/adapter"
	"gemini-relay/core/security"
	"gemini-relay/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Log.File != "" {
		rotator, err := core.NewLogRotator(cfg.Log.File, cfg.Log.MaxSizeMB)
		if err != nil {
			log.Fatal("Failed to open log file: ", err)
		}
		defer rotator.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	// 请求元数据库不可用时服务照常运行，只是没有 /stats 数据
	var reqLog *core.AsyncRequestLogger
	if db, err := initDatabase(cfg.DatabasePath, log); err != nil {
		log.WithError(err).Error("Request log database unavailable, continuing without it")
	} else {
		reqLog = core.NewAsyncRequestLogger(db, log)
		defer reqLog.Close()
	}

	generator, err := adapter.New(cfg.Upstream.Driver, cfg.Upstream.BaseURL, core.NewHTTPClient(0))
	if err != nil {
		log.Fatal("Failed to create upstream driver: ", err)
	}
	defer generator.Close()

	app := newApp(cfg, generator, reqLog, log)
	if app.rotator.Len() == 0 {
		log.Warn("No API keys configured; /chat will return a configuration error")
	}

	var limiter *IPRateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = NewIPRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
		defer limiter.Stop()
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: newEngine(app, limiter),
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"models":      cfg.Models,
			"credentials": app.rotator.Len(),
			"driver":      cfg.Upstream.Driver,
		}).Info("Starting Gemini relay")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// newApp 组装核心组件
func newApp(cfg config.Config, generator core.Generator, reqLog *core.AsyncRequestLogger, log *logrus.Logger) *App {
	keys := core.ResolveCredentials(cfg.APIKeys, secretProvider(cfg.SecretKey, log), log)
	rotator := core.NewKeyRotator(keys)

	assembler := core.NewContextAssembler(cfg.Prompt.Instruction, cfg.Prompt.QuestionPrefix)
	chain := core.NewFallbackChain(cfg.Models, generator, cfg.Upstream.Timeout, log)

	return &App{
		chat:    core.NewChatService(rotator, assembler, chain, log),
		titles:  core.NewTitleSummarizer(rotator, generator, cfg.TitleModel, cfg.Prompt.DefaultTitle, cfg.Upstream.Timeout, log),
		rotator: rotator,
		models:  chain.Candidates(),
		driver:  cfg.Upstream.Driver,
		limits: intakeLimits{
			maxUploadBytes:  cfg.MaxUploadBytes(),
			maxHistoryTurns: cfg.Prompt.MaxHistoryTurns,
		},
		reqLog: reqLog,
		log:    log,
	}
}

func secretProvider(secret string, log *logrus.Logger) core.SecretProvider {
	if secret == "" {
		return core.NewNoOpSecretProvider()
	}
	sp, err := security.NewAESSecretProvider(secret)
	if err != nil {
		log.WithError(err).Error("Invalid RELAY_SECRET_KEY, encrypted keys will be skipped")
		return core.NewNoOpSecretProvider()
	}
	return sp
}

// newEngine 注册中间件和路由
func newEngine(app *App, limiter *IPRateLimiter) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(app.log.Writer()))
	engine.Use(corsMiddleware())
	engine.Use(requestIDMiddleware())
	engine.Use(metricsMiddleware())

	engine.GET("/", handleRoot())
	engine.GET("/health", app.handleHealth())
	engine.GET("/stats", app.handleStats())
	engine.GET("/dashboard", handleDashboard())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/")
	api.Use(requestLoggerMiddleware(app.log), rateLimitMiddleware(limiter, app.log))
	{
		api.POST("/chat", app.handleChat())
		api.POST("/generate_title", app.handleGenerateTitle())
	}
	return engine
}

// initDatabase 打开 sqlite 并迁移请求日志表
func initDatabase(path string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("path", path).Info("Database initialized successfully")
	return db, nil
}
