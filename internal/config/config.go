package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogLevel string
	// LogPretty 切换为便于人读的 zerolog 控制台输出
	LogPretty bool

	// 管理员密钥，争议列表 / 裁决 / 重置数据库都要求携带
	AdminKey string
	// 可选：TOML 商品目录，为空时使用内置目录
	CatalogFile string

	// RedisAddr 为空时关闭限流、订单锁与事件流水线
	RedisAddr string
	RedisDB   int

	// EventsEnabled 打开 Redis Stream outbox + Relay + Kafka 消费者
	EventsEnabled bool

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（API 写入，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 写接口按 anonUserId 限流
	WriteRateLimit  int
	WriteRateWindow time.Duration

	// 管理接口单实例令牌桶
	AdminRatePerSec float64
	AdminRateBurst  int

	OrderLockTTL time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "adstandard.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AdminKey:           getEnv("ADMIN_KEY", "dev-admin-key"),
		CatalogFile:        getEnv("CATALOG_FILE", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "adstandard-order-events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "adstandard-timeline"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "adstandard:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "adstandard-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "adstandard-relay-1"),
		WriteRateLimit:     60,
		WriteRateWindow:    time.Minute,
		AdminRatePerSec:    5,
		AdminRateBurst:     10,
		OrderLockTTL:       5 * time.Second,
	}

	var err error
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if cfg.LogPretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}
	if cfg.EventsEnabled, err = getEnvBool("EVENTS_ENABLED", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid EVENTS_ENABLED: %w", err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rateLimit, err := getEnvInt("WRITE_RATE_LIMIT", cfg.WriteRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid WRITE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("WRITE_RATE_LIMIT must be > 0")
	}
	cfg.WriteRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("WRITE_RATE_WINDOW_SEC", int(cfg.WriteRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid WRITE_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("WRITE_RATE_WINDOW_SEC must be > 0")
	}
	cfg.WriteRateWindow = time.Duration(rateWindowSec) * time.Second

	adminRate, err := getEnvFloat("ADMIN_RATE_PER_SEC", cfg.AdminRatePerSec)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ADMIN_RATE_PER_SEC: %w", err)
	}
	if adminRate <= 0 {
		return AppConfig{}, fmt.Errorf("ADMIN_RATE_PER_SEC must be > 0")
	}
	cfg.AdminRatePerSec = adminRate

	adminBurst, err := getEnvInt("ADMIN_RATE_BURST", cfg.AdminRateBurst)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ADMIN_RATE_BURST: %w", err)
	}
	if adminBurst <= 0 {
		return AppConfig{}, fmt.Errorf("ADMIN_RATE_BURST must be > 0")
	}
	cfg.AdminRateBurst = adminBurst

	lockTTLSec, err := getEnvInt("ORDER_LOCK_TTL_SEC", int(cfg.OrderLockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_LOCK_TTL_SEC: %w", err)
	}
	if lockTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_LOCK_TTL_SEC must be > 0")
	}
	cfg.OrderLockTTL = time.Duration(lockTTLSec) * time.Second

	if cfg.AdminKey == "" {
		return AppConfig{}, fmt.Errorf("ADMIN_KEY must not be empty")
	}

	// 事件流水线依赖 Redis Stream 与 Kafka
	if cfg.EventsEnabled {
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("EVENTS_ENABLED requires REDIS_ADDR")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		if cfg.OrderEventStream == "" || cfg.OrderEventGroup == "" || cfg.OrderEventConsumer == "" {
			return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM, ORDER_EVENT_GROUP and ORDER_EVENT_CONSUMER must not be empty")
		}
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
