package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sudooom.market.chat/internal/auth"
	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/config"
	"sudooom.market.chat/internal/events"
	"sudooom.market.chat/internal/handler"
	"sudooom.market.chat/internal/health"
	"sudooom.market.chat/internal/repository"
	"sudooom.market.chat/internal/router"
	"sudooom.market.chat/internal/service"
	"sudooom.market.chat/internal/socket"
	"sudooom.market.chat/pkg/jwt"
	"sudooom.market.chat/pkg/snowflake"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable, pair lock falls back to local", "addr", cfg.Redis.Addr(), "error", err)
	} else {
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())
	}

	// 连接 NATS
	natsClient, err := events.NewClient(cfg.NATS, cfg.App.Name)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 初始化雪花ID生成器
	sfNode, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// 频道服务网关
	gateway := channel.NewGateway(
		newChannelProvider(cfg.Channel, redisClient),
		channel.NewTokenIssuer(cfg.Channel.TokenSecret, cfg.Channel.TokenTTL),
		cfg.Channel.Timeout,
	)
	if err := gateway.Init(ctx); err != nil {
		// 频道不可用不阻止启动，漂移在读取时修复
		logger.Warn("Channel provider not ready", "backend", cfg.Channel.Backend, "error", err)
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	tokenRepo := repository.NewTokenRepository(redisClient)

	// 初始化 Service
	publisher := events.NewPublisher(natsClient.Conn())
	chatService := service.NewChatService(
		roomRepo,
		userRepo,
		gateway,
		service.NewRedisPairLocker(redisClient, cfg.Chat.PairLockTTL),
		publisher,
		sfNode,
		service.Options{
			MinGroupMembers: cfg.Chat.MinGroupMembers,
			MaxGroupMembers: cfg.Chat.MaxGroupMembers,
		},
	)

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.AccessExpire)
	authenticator := auth.NewAuthenticator(jwtService, tokenRepo, userRepo)

	// WebSocket 与事件投递
	hub := socket.NewHub()
	socketServer := socket.NewServer(cfg.Socket, authenticator, chatService, publisher, hub)

	subscriber := events.NewSubscriber(natsClient.Conn(), hub, events.SubscriberConfig{
		WorkerCount: cfg.NATS.Workers,
		BufferSize:  cfg.NATS.QueueSize,
	})
	if err := subscriber.Start(); err != nil {
		logger.Error("Failed to start event subscriber", "error", err)
		os.Exit(1)
	}

	cleaner := service.NewCleaner(roomRepo, gateway, publisher, service.CleanerConfig{
		Interval:        cfg.Chat.CleanupInterval,
		BatchSize:       cfg.Chat.CleanupBatch,
		MinGroupMembers: cfg.Chat.MinGroupMembers,
	})
	cleaner.Start()

	// 设置路由
	checker := health.NewChecker(db, redisClient, natsClient, gateway, hub)
	r := router.SetupRouter(cfg, authenticator, handler.NewChatHandler(chatService), checker, socketServer)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Chat server started", "addr", srv.Addr, "mode", cfg.App.Mode, "node", cfg.App.NodeID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	cleaner.Stop()
	if err := subscriber.Stop(); err != nil {
		logger.Error("Event subscriber shutdown failed", "error", err)
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("Channel gateway shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Server stopped")
}

// newChannelProvider 按配置选择频道服务后端
func newChannelProvider(cfg config.ChannelConfig, rdb *redis.Client) channel.Provider {
	if cfg.Backend == "memory" {
		slog.Warn("Using in-memory channel provider, channels are not shared between nodes")
		return channel.NewMemoryProvider()
	}
	return channel.NewRedisProvider(rdb, cfg.KeyPrefix)
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
