package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"15"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
	} `envPrefix:"SERVER_"`
	Database struct {
		Driver             string `env:"DRIVER" envDefault:"postgres"` // postgres | memory
		DSN                string `env:"DSN"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"20"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
		AutoMigrate        bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	} `envPrefix:"DATABASE_"`
	JWT struct {
		// 密钥为空时从 X-Tenant-ID 请求头读取租户
		Secret string `env:"SECRET"`
	} `envPrefix:"JWT_"`
	Redis struct {
		Addr             string `env:"ADDR"`
		Password         string `env:"PASSWORD"`
		ConnectTimeout   int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		ConflictCacheTTL int    `env:"CONFLICT_CACHE_TTL" envDefault:"300"`
	} `envPrefix:"REDIS_"`
	RabbitMQ struct {
		DSN            string `env:"DSN"`
		Queue          string `env:"QUEUE" envDefault:"dispatch_queue"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
	} `envPrefix:"RABBITMQ_"`
	Email struct {
		DispatchDesk string `env:"DISPATCH_DESK"`
		SMTP         struct {
			Username    string `env:"USERNAME"`
			Password    string `env:"PASSWORD"`
			Host        string `env:"HOST"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	Travel struct {
		SpeedKmh       float64 `env:"SPEED_KMH" envDefault:"40"`
		DetourFactor   float64 `env:"DETOUR_FACTOR" envDefault:"1.3"`
		RoutingURL     string  `env:"ROUTING_URL"`
		RoutingTimeout int     `env:"ROUTING_TIMEOUT" envDefault:"5"`
	} `envPrefix:"TRAVEL_"`
	Seed struct {
		TenantID string `env:"TENANT_ID"`
	} `envPrefix:"SEED_"`
}

func LoadConfig() (*Config, error) {
	// .env 文件是可选的，真实的环境变量优先
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// 只保留第一个错误，避免日志过长
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return nil, errors.New(`DATABASE_DRIVER 为 "postgres" 时必须配置 DATABASE_DSN`)
	}

	return cfg, nil
}
