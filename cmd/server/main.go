package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/approval"
	"github.com/garyjia/ap-invoice-flow/internal/checkpoint"
	"github.com/garyjia/ap-invoice-flow/internal/config"
	"github.com/garyjia/ap-invoice-flow/internal/gateway"
	apphttp "github.com/garyjia/ap-invoice-flow/internal/interfaces/http"
	"github.com/garyjia/ap-invoice-flow/internal/ledger"
	"github.com/garyjia/ap-invoice-flow/internal/match"
	"github.com/garyjia/ap-invoice-flow/internal/repository"
	"github.com/garyjia/ap-invoice-flow/internal/worker"
	"github.com/garyjia/ap-invoice-flow/internal/workflow"
	"github.com/garyjia/ap-invoice-flow/pkg/database"
	"github.com/garyjia/ap-invoice-flow/pkg/utils"
)

func main() {
	// Load .env if present, before config binds environment variables
	gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting AP invoice flow service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Persistence
	erpRepo := repository.NewERPRepository(db.DB, logger)
	store := checkpoint.NewSQLiteStore(db.DB, logger)

	// Tool gateway. The invoice parser and notification sender are
	// swappable backends selected by configuration.
	gw := gateway.New(cfg.Engine.ToolTimeout, logger)
	gw.Register(gateway.NewOCRExtractor(logger))
	if cfg.OpenAI.Enabled {
		gw.Register(gateway.NewLLMParser(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.MaxTokens,
			logger,
		))
	} else {
		gw.Register(gateway.NewInvoiceParser(logger))
	}
	gw.Register(gateway.NewVendorEnricher(erpRepo, logger))
	gw.Register(gateway.NewPOFetcher(erpRepo, logger))
	gw.Register(gateway.NewERPPoster(erpRepo, logger))
	if cfg.Lark.Enabled {
		sender := gateway.NewLarkSender(cfg.Lark.AppID, cfg.Lark.AppSecret, logger)
		gw.Register(gateway.NewNotifier(sender, logger))
	} else {
		gw.Register(gateway.NewNotifier(gateway.NewLogSender(logger), logger))
	}

	// Scoring and approval policy
	matcher := match.NewEngine(match.Weights{
		TotalAmount: cfg.Match.Weights.TotalAmount,
		LineCount:   cfg.Match.Weights.LineCount,
		LineItems:   cfg.Match.Weights.LineItems,
	}, cfg.Match.ToleranceBand)
	policy := approval.NewPolicy(cfg.Approval.AutoApprovalCeiling, cfg.Match.ScoreThreshold)

	// Voucher export is optional
	var exporter workflow.VoucherExporter
	if cfg.Ledger.ExportEnabled {
		if err := os.MkdirAll(cfg.Ledger.OutputDir, 0755); err != nil {
			logger.Fatal("Failed to create voucher output directory", zap.Error(err))
		}
		exporter = ledger.NewExporter(cfg.Ledger.OutputDir, logger)
	}

	orchestrator := workflow.New(workflow.Config{
		ScoreThreshold:     cfg.Match.ScoreThreshold,
		MaxToolRetries:     cfg.Engine.MaxToolRetries,
		RetryBackoff:       cfg.Engine.RetryBackoff,
		PostingMaxAttempts: cfg.Engine.PostingMaxAttempts,
		MinCreditScore:     cfg.Engine.MinCreditScore,
		ReviewURLBase:      cfg.Engine.ReviewURLBase,
		NotifyRecipient:    cfg.Lark.RecipientEmail,
	}, gw, matcher, policy, store, exporter, logger)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewRecoverySweeper(
		orchestrator,
		store,
		cfg.Checkpoint.SweepInterval,
		cfg.Checkpoint.Retention,
		cfg.Checkpoint.MaxConcurrentRecoveries,
		logger,
	))

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if err := manager.StartAll(workerCtx); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	// HTTP server
	server := apphttp.NewServer(apphttp.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, orchestrator, httpLogger{logger.Sugar()})

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(serverCtx)
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	stopServer()
	manager.StopAll()

	logger.Info("Server exited successfully")
}

// httpLogger adapts the sugared zap logger to the HTTP layer's logger.
type httpLogger struct {
	s *zap.SugaredLogger
}

func (l httpLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l httpLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
