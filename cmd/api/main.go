package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/cache"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/handler"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/migrations"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/notify"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/repository"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/scheduler"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	/**********************************************
	 * 创建存储
	 **********************************************/
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("正在使用内存存储，重启后数据会丢失")
		store = repository.NewMemoryRepository()
	case "postgres":
		dbpool, err := repository.OpenPostgres(cfg)
		if err != nil {
			logger.Error("无法连接到数据库", "error", err)
			return
		}
		defer dbpool.Close()

		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.TransactionTimeout)*time.Second)
			_, err := migrations.Up(ctx, dbpool)
			cancel()
			if err != nil {
				logger.Error("无法执行数据库迁移", "error", err)
				return
			}
		}

		store = repository.NewRepository(cfg, dbpool)
	default:
		logger.Error("未知的数据库驱动", "driver", cfg.Database.Driver)
		return
	}

	/**********************************************
	 * 创建冲突服务
	 **********************************************/
	var estimator scheduler.TravelEstimator = scheduler.NewStraightLineEstimator(cfg.Travel.SpeedKmh, cfg.Travel.DetourFactor)
	if cfg.Travel.RoutingURL != "" {
		estimator = &scheduler.FallbackEstimator{
			Primary:   scheduler.NewRoutingEstimator(cfg.Travel.RoutingURL, time.Duration(cfg.Travel.RoutingTimeout)*time.Second),
			Secondary: estimator,
		}
		logger.Info("路程估算将使用路线服务", "url", cfg.Travel.RoutingURL)
	}
	conflicts := scheduler.New(estimator)

	m, err := metrics.New(nil)
	if err != nil {
		logger.Error("无法注册监控指标", "error", err)
		return
	}

	var opts []handler.Option

	/**********************************************
	 * 连接 redis（冲突缓存）
	 **********************************************/
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Redis.ConnectTimeout)*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Error("无法连接到 redis", "error", err)
			return
		}

		ttl := time.Duration(cfg.Redis.ConflictCacheTTL) * time.Second
		opts = append(opts, handler.WithConflictCache(cache.NewConflictCache(rdb, ttl)))
	}

	/**********************************************
	 * 连接 rabbitmq（派单通知）
	 **********************************************/
	if cfg.RabbitMQ.DSN != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			logger.Error("无法连接到 rabbitmq", "error", err)
			return
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Error("无法建立通道", "error", err)
			return
		}
		defer ch.Close()

		if _, err := notify.DeclareQueue(ch, cfg.RabbitMQ.Queue); err != nil {
			logger.Error("无法声明队列", "queue", cfg.RabbitMQ.Queue, "error", err)
			return
		}

		publisher := notify.NewPublisher(ch, cfg.RabbitMQ.Queue, time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second)
		opts = append(opts, handler.WithDispatchPublisher(publisher))
	}

	/**********************************************
	 * 创建 handler
	 **********************************************/
	h, err := handler.NewHandler(cfg, store, conflicts, m, opts...)
	if err != nil {
		logger.Error("无法创建 handler", "error", err)
		return
	}
	h.RegisterRoutes()
	h.Mux.Handle("/metrics", promhttp.Handler())

	/**********************************************
	 * 启动 HTTP 服务器
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      h.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("正在启动服务器...", "port", cfg.Server.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动服务器", slog.String("error", err.Error()))
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭服务器失败", slog.String("error", err.Error()))
	}
	logger.Info("服务器已成功关闭")
}
