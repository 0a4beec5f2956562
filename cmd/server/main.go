package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adstandard/internal/catalog"
	"adstandard/internal/config"
	"adstandard/internal/dispute"
	"adstandard/internal/lead"
	"adstandard/internal/logger"
	"adstandard/internal/middleware"
	"adstandard/internal/order"
	"adstandard/internal/queue"
	"adstandard/internal/recommend"
	"adstandard/internal/router"
	"adstandard/internal/store"
	rediskey "adstandard/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

const serviceName = "adstandard-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.Init(serviceName, cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 连接 SQLite，自动建表
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// 2. 商品目录：默认内置，可用 TOML 文件覆盖
	var cat catalog.Provider = catalog.Default()
	if cfg.CatalogFile != "" {
		fileCat, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return err
		}
		cat = fileCat
		log.Info().Str("file", cfg.CatalogFile).Int("products", len(fileCat.List())).Msg("catalog loaded")
	}

	// 3. Redis（可选）：限流、订单锁、事件 outbox
	var rdb *rd.Client
	var orderOpts []order.Option
	if cfg.RedisAddr != "" {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		orderOpts = append(orderOpts, order.WithLocker(rediskey.NewOrderLocker(rdb, cfg.OrderLockTTL)))
	}

	g, gctx := errgroup.WithContext(ctx)

	// 4. 事件：开启时 API 写 Redis Stream，Relay 转发 Kafka，Consumer 落库；
	// 关闭时直接写 order_events。
	var events queue.Publisher = queue.NewRecorder(db)
	if cfg.EventsEnabled {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db)
		defer consumer.Close()
		relay := queue.NewRelay(rdb, producer, queue.RelayConfig{
			Stream:   cfg.OrderEventStream,
			Group:    cfg.OrderEventGroup,
			Consumer: cfg.OrderEventConsumer,
		})

		events = queue.NewStreamPublisher(rdb, cfg.OrderEventStream)
		g.Go(func() error { relay.Run(gctx); return nil })
		g.Go(func() error { consumer.Run(gctx); return nil })
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("event pipeline enabled")
	}

	leads := lead.NewService(db)
	orders := order.NewService(db, cat, events, orderOpts...)
	disputes := dispute.NewService(db, events, cfg.AdminKey)

	// 只做 W3C trace context 传播，日志按 trace_id 关联；未注册 TracerProvider，不导出 span
	otel.SetTextMapPropagator(propagation.TraceContext{})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLogger())
	router.Setup(r, router.Deps{
		DB:       db,
		Redis:    rdb,
		Catalog:  cat,
		Leads:    leads,
		Ranker:   recommend.NewRanker(cat),
		Orders:   orders,
		Disputes: disputes,
		Config:   cfg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBPath).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
