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
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-tank-arena/internal"
	"github.com/koopa0/system-design/14-tank-arena/internal/eventbus"
	"github.com/koopa0/system-design/14-tank-arena/internal/migrations"
	"github.com/koopa0/system-design/14-tank-arena/internal/storage"
	"github.com/koopa0/system-design/14-tank-arena/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tank-arena: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔案路徑（YAML）")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	// 載入配置
	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 設定日誌
	log, closer, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 選配的外部系統；未設定時對應功能停用
	sinks, readers, cleanup, err := connectBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := internal.NewReporter(sinks, internal.ReporterConfig{
		BufferSize: cfg.Game.ReporterBuffer,
	}, log)

	engine := internal.NewEngine(cfg.Game, log, internal.WithObserver(reporter))
	hub := internal.NewHub(engine, cfg.Server.AllowedOrigins, log)
	handler := internal.NewHandler(internal.HandlerConfig{
		Engine:         engine,
		Hub:            hub,
		Leaderboard:    readers.leaderboard,
		History:        readers.history,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminToken:     cfg.Server.AdminToken,
	}, log)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("事件迴圈異常結束", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("坦克對戰服務器啟動",
			"port", cfg.Server.Port,
			"allowed_origins", cfg.Server.AllowedOrigins)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	case <-ctx.Done():
		log.Info("收到關閉信號，開始優雅關閉...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
		_ = srv.Close()
	}

	// 先關閉 WebSocket，讓斷線在事件迴圈仍運行時處理完
	hub.Stop()
	stopEngine()
	<-engineDone

	// 送出剩餘的對局結果
	reporter.Shutdown()

	log.Info("服務器已關閉")
	return nil
}

type backendReaders struct {
	leaderboard internal.LeaderboardReader
	history     internal.MatchHistoryReader
}

// connectBackends 連接 PostgreSQL、Redis、NATS；任一設定為空則略過
func connectBackends(ctx context.Context, cfg internal.Config, log *slog.Logger) (internal.Sinks, backendReaders, func(), error) {
	var (
		sinks   internal.Sinks
		readers backendReaders
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn := cfg.Postgres.DSN; dsn != "" {
		m, err := migrations.New(dsn, log)
		if err != nil {
			cleanup()
			return sinks, readers, nil, fmt.Errorf("migrations: %w", err)
		}
		err = m.Up()
		_ = m.Close()
		if err != nil {
			cleanup()
			return sinks, readers, nil, fmt.Errorf("migrations: %w", err)
		}

		pool, err := storage.NewPool(ctx, dsn, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			cleanup()
			return sinks, readers, nil, err
		}
		closers = append(closers, pool.Close)

		archive := storage.NewMatchArchive(pool, log)
		sinks.Results = archive
		readers.history = archive
		log.Info("對局封存已啟用")
	}

	if addr := cfg.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			cleanup()
			return sinks, readers, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })

		board := storage.NewLeaderboard(client)
		sinks.Wins = board
		readers.leaderboard = board
		log.Info("排行榜已啟用", "addr", addr)
	}

	if url := cfg.NATS.URL; url != "" {
		conn, err := eventbus.Connect(url, log)
		if err != nil {
			cleanup()
			return sinks, readers, nil, err
		}
		publisher := eventbus.NewPublisher(conn, cfg.NATS.SubjectPrefix, log)
		closers = append(closers, publisher.Close)

		sinks.Publisher = publisher
		log.Info("事件發佈已啟用", "url", url)
	}

	return sinks, readers, cleanup, nil
}
