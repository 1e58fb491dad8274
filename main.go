package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lab1702/battleship-web/config"
	"github.com/lab1702/battleship-web/server"
	"github.com/lab1702/battleship-web/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	// In-process stores by default; Redis and Postgres are opt-in.
	var (
		queue   store.QueueStore = store.NewMemoryQueue()
		rooms   store.RoomStore  = store.NewMemoryRooms()
		sink    store.EventSink  = store.NewMemorySink()
		limiter server.Limiter   = server.NewLocalLimiter()
	)
	health := store.NewHealth(cfg.StorePing)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StorePing)
		pingErr := rdb.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil && !cfg.RedisRequired {
			logger.Warn("redis unreachable, using in-process stores", zap.Error(pingErr))
			rdb.Close()
		} else {
			if pingErr != nil {
				// Required deps gate readiness instead of blocking startup.
				logger.Warn("redis unreachable at startup", zap.Error(pingErr))
			}
			queue = store.NewRedisQueue(rdb, cfg.RedisPrefix, cfg.QueueWait+cfg.ReconnectGrace)
			rooms = store.NewRedisRooms(rdb, cfg.RedisPrefix)
			limiter = server.NewRedisLimiter(rdb, cfg.RedisPrefix, logger)
			health.Register(store.RedisPinger{Client: rdb, Req: cfg.RedisRequired})
			logger.Info("redis stores enabled", zap.String("prefix", cfg.RedisPrefix))
		}
	}

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("invalid postgres url", zap.Error(err))
		}
		defer pool.Close()
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := store.EnsureSchema(schemaCtx, pool); err != nil {
			logger.Warn("event schema setup failed", zap.Error(err))
		}
		cancel()
		sink = store.NewPostgresSink(ctx, store.SinkConfig{Pool: pool, Logger: logger})
		health.Register(store.PostgresPinger{Pool: pool, Req: cfg.PostgresRequired})
		logger.Info("postgres event sink enabled")
	}

	srv := server.New(server.Options{
		Config:  cfg,
		Logger:  logger,
		Queue:   queue,
		Rooms:   rooms,
		Sink:    sink,
		Limiter: limiter,
	})
	go srv.Run()

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(health),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	sink.Stop()
	logger.Info("server stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
