package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mvalley/backend/config"
	"mvalley/backend/internal/api/handler"
	"mvalley/backend/internal/api/router"
	"mvalley/backend/internal/repository"
	"mvalley/backend/internal/service"
	"mvalley/backend/pkg/broker"
	"mvalley/backend/pkg/database"
	"mvalley/backend/pkg/jwt"
	applogger "mvalley/backend/pkg/logger"
	"mvalley/backend/pkg/redis"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("MVALLEY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("async_generation", cfg.Allocation.AsyncGeneration),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 3.1 执行数据库迁移
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级运行，不中断启动）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis 连接失败，黑名单、限流与分布式锁降级为本地模式", zap.Error(err))
			rdb = nil
		}
	}

	// 4.1 确认流程资源锁：有 Redis 时跨实例互斥，否则进程内互斥
	var locker service.ResourceLocker
	if rdb != nil {
		locker = service.NewRedisLocker(rdb, logger)
	} else {
		locker = service.NewMemoryLocker()
	}

	// 5. 初始化 JWT 校验器
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	txMgr := repository.NewTxManager(db)
	svc := service.NewService(cfg, repo, txMgr, locker, logger)

	required := map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
	}
	optional := map[string]handler.HealthCheck{}
	if rdb != nil {
		optional["redis"] = rdb.Ping
	}
	h := handler.NewHandler(svc, handler.NewHealthHandler(required, optional))

	// 7. 初始化路由
	if err := handler.RegisterValidators(); err != nil {
		logger.Fatal("注册校验规则失败", zap.Error(err))
	}
	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)

	// 8. 启动 outbox 投递（可选）
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	var publisher *broker.Publisher
	if cfg.Broker.Enabled {
		publisher, err = broker.NewPublisher(&cfg.Broker, logger)
		if err != nil {
			logger.Warn("RabbitMQ 连接失败，确认事件暂存于 outbox，下次启动后投递", zap.Error(err))
		}
	}
	if publisher != nil {
		relay := service.NewOutboxRelay(txMgr, publisher, cfg.Broker.RelayInterval, cfg.Broker.BatchSize, logger)
		go func() {
			defer close(relayDone)
			relay.Run(relayCtx)
		}()
	} else {
		close(relayDone)
	}

	// 9. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 10. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 取消进行中的生成任务，已落库的候选班组保留
	if err := svc.Allocation.Shutdown(ctx); err != nil {
		logger.Error("等待生成任务结束超时", zap.Error(err))
	}

	stopRelay()
	<-relayDone
	if publisher != nil {
		_ = publisher.Close()
	}

	// 关闭数据库连接
	if err := sqlDB.Close(); err != nil {
		logger.Error("关闭数据库连接失败", zap.Error(err))
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
