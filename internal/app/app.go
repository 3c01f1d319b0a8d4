// Package app はアプリケーションの起動とワイヤリングを担う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/chorecast/internal/broker"
	"github.com/hitoshi/chorecast/internal/config"
	"github.com/hitoshi/chorecast/internal/database"
	"github.com/hitoshi/chorecast/internal/handler"
	"github.com/hitoshi/chorecast/internal/logger"
	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/mqtt"
	"github.com/hitoshi/chorecast/internal/repository"
	"github.com/hitoshi/chorecast/internal/scan"
	"github.com/hitoshi/chorecast/internal/stats"
	"github.com/hitoshi/chorecast/internal/trust"
	"github.com/hitoshi/chorecast/internal/webhook"
	dailypkg "github.com/hitoshi/chorecast/internal/worker/daily"
	remindpkg "github.com/hitoshi/chorecast/internal/worker/remind"
	sweeppkg "github.com/hitoshi/chorecast/internal/worker/sweep"

	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mqtt_port", cfg.MQTTPort),
		slog.String("server_port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はブローカー兼サーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、MQTTブローカーと
// 運用HTTPサーバーを起動する。SIGINTまたはSIGTERMシグナルを受信すると
// グレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	readerRepo := repository.NewPostgresReaderRepo(db)
	banRepo := repository.NewPostgresBanRepo(db)
	tagRepo := repository.NewPostgresTagRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	choreRepo := repository.NewPostgresChoreRepo(db)
	choreLogRepo := repository.NewPostgresChoreLogRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)
	reminderRepo := repository.NewPostgresReminderLogRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ブローカーの組み立て
	b, err := broker.New(broker.Options{
		TCPAddress: ":" + cfg.MQTTPort,
		WSAddress:  ":" + cfg.MQTTWSPort,
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	pub := b.Publisher()

	// 5. コアコンポーネントのワイヤリング
	gate, err := trust.NewGate(banRepo, readerRepo, cfg.DeviceVerifyKeyPEM, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize trust gate: %w", err)
	}

	tracker := mqtt.NewTracker(readerRepo, pub, slog.Default())
	correlator := scan.NewCorrelator(readerRepo, pub, slog.Default(), cfg.ScanRequestTimeout)
	engine := stats.NewEngine(statsRepo, slog.Default())

	// 6. Webhook配送と日次サマリ
	whClient := webhook.NewClient(cfg.WebhookTimeout, cfg.WebhookAllowPrivate, cfg.WebhookRatePerSec, collector, slog.Default())
	summaryBuilder := webhook.NewBuilder(choreRepo, userRepo, choreLogRepo, statsRepo, slog.Default())
	summarySender := webhook.NewSender(summaryBuilder, whClient, settingsRepo, cfg.Location, slog.Default())

	processor := scan.NewProcessor(scan.ProcessorDeps{
		Correlator:   correlator,
		Settings:     settingsRepo,
		Tags:         tagRepo,
		Users:        userRepo,
		Readers:      readerRepo,
		Sessions:     sessionRepo,
		Chores:       choreRepo,
		ChoreLog:     choreLogRepo,
		Engine:       engine,
		Publisher:    pub,
		Collector:    collector,
		Logger:       slog.Default(),
		Location:     cfg.Location,
		OnCompletion: summarySender.Refresh,
	})

	hook := broker.NewHook(broker.HookDeps{
		Gate:       gate,
		Tracker:    tracker,
		Correlator: correlator,
		Processor:  processor,
		Publisher:  pub,
		Collector:  collector,
		Logger:     slog.Default(),
	})
	if err := b.AttachHook(hook); err != nil {
		return fmt.Errorf("failed to attach broker hook: %w", err)
	}

	// 7. バックグラウンドワーカー
	sweepWorker := sweeppkg.NewWorker(tracker, readerRepo, collector, cfg.StaleThreshold, slog.Default())
	dailyWorker := dailypkg.NewWorker(choreRepo, userRepo, engine, summarySender, cfg.Location, slog.Default())
	remindWorker := remindpkg.NewWorker(statsRepo, choreRepo, settingsRepo, reminderRepo, whClient, summarySender, cfg.Location, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go summarySender.Run(ctx, cfg.SummaryInterval)
	go sweepWorker.Run(ctx, cfg.StaleSweepInterval)
	go dailyWorker.Run(ctx)
	go remindWorker.Run(ctx)

	// 8. 運用HTTPサーバー
	opsRouter := handler.NewOpsRouter(&handler.OpsDeps{
		DB:       db,
		Gatherer: registry,
	})
	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      opsRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ops server starting", slog.String("addr", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	// 9. MQTTブローカーの起動
	go func() {
		slog.Info("mqtt broker starting",
			slog.String("tcp", ":"+cfg.MQTTPort),
			slog.String("ws", ":"+cfg.MQTTWSPort),
		)
		if err := b.Serve(); err != nil {
			slog.Error("mqtt broker error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", slog.String("error", err.Error()))
	}
	if err := b.Close(); err != nil {
		slog.Error("mqtt broker shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
