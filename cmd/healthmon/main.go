package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthmon/internal/aggregator"
	"healthmon/internal/analysis"
	"healthmon/internal/config"
	"healthmon/internal/database"
	httpapi "healthmon/internal/http"
	logpkg "healthmon/internal/logger"
	"healthmon/internal/mailer"
	"healthmon/internal/realtime"
	"healthmon/internal/repository"
	"healthmon/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "healthmon")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting healthmon service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("analysis_model", cfg.Analysis.Model),
	)

	if cfg.HTTP.APIKey == "" {
		logger.Warn("API_KEY is empty, all authorized requests will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	db, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Redis（实时通道）
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	channel := realtime.NewChannel(redisClient, logger)

	// 依赖装配
	usersRepo := repository.NewPostgresUsersRepository(db, logger)
	analyzer := analysis.NewClient(&cfg.Analysis, logger)
	dispatcher := mailer.NewDispatcher(mailer.NewSMTPMailer(&cfg.SMTP), logger)
	gateway := service.NewSubmissionGateway(usersRepo, analyzer, dispatcher, logger)
	sessions := aggregator.NewManager(ctx, channel, gateway, logger)

	// 月度提醒
	reminder := service.NewReminderJob(usersRepo, dispatcher, cfg.Reminder.Spec, logger)
	if err := reminder.Start(); err != nil {
		logger.Fatal("Failed to start reminder job", zap.Error(err))
	}

	// HTTP
	router := httpapi.NewRouter(cfg.HTTP.APIKey, logger)
	router.RegisterRoutes(
		httpapi.NewDeviceHandler(channel, logger),
		httpapi.NewHealthDataHandler(channel, logger),
		httpapi.NewUserHandler(usersRepo, gateway, logger),
		httpapi.NewSessionHandler(usersRepo, sessions, logger),
	)
	server := service.NewServer(cfg.HTTP.Addr, router, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	reminder.Stop()
	cancel()
	sessions.StopAll()

	// 等在途邮件发完再退出（有限等待）
	mailCtx, mailCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer mailCancel()
	if err := dispatcher.Close(mailCtx); err != nil {
		logger.Warn("Abandoning in-flight emails", zap.Error(err))
	}

	logger.Info("Service stopped")
}
