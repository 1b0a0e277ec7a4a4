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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"finance-saas-go/internal/ai"
	"finance-saas-go/internal/analytics"
	"finance-saas-go/internal/auth"
	"finance-saas-go/internal/config"
	"finance-saas-go/internal/database"
	httpserver "finance-saas-go/internal/http"
	"finance-saas-go/internal/ledger"
	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/payments"
	"finance-saas-go/internal/receipts"
	"finance-saas-go/internal/subscription"
)

func main() {
	_ = godotenv.Load(".env")

	rootCmd := &cobra.Command{
		Use:   "finance-saas",
		Short: "Subscription-gated personal finance ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.AddCommand(newServeCommand(), newMigrateCommand(), newSweepCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, db, err := open()
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info().Msg("migration complete")
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed subscriptions and repair transaction counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, db, err := open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			expired, err := subscription.NewService(db, nil, "").SweepExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			fixed, err := ledger.NewStore(db).Reconcile(ctx)
			if err != nil {
				return err
			}
			log.Info().Int64("expired", expired).Int64("counters_fixed", fixed).Msg("sweep complete")
			return nil
		},
	}
}

// open loads configuration and connects to the database.
func open() (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DSN(), log)
	if err != nil {
		log.Error().Err(err).Msg("database unavailable")
		return nil, log, nil, err
	}
	return cfg, log, db, nil
}

func runServe(ctx context.Context) error {
	cfg, log, db, err := open()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if err := database.Migrate(db); err != nil {
		log.Error().Err(err).Msg("migration failed")
		return err
	}
	ctx = logger.WithContext(ctx, log)

	enricher, err := ai.New(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.AIProvider).Msg("AI enrichment disabled")
	}
	var insights analytics.InsightGenerator
	if enricher != nil {
		insights = enricher
	}

	store, closeStore, err := receiptStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("receipt storage unavailable")
		return err
	}
	defer closeStore()

	subs := subscription.NewService(db,
		payments.NewClient(cfg.ZiinaKey, cfg.ZiinaBaseURL, time.Duration(cfg.ReqTimeoutSec)*time.Second),
		cfg.AllowOrigins)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := httpserver.NewServer(cfg, httpserver.Deps{
		Ledger:    ledger.NewStore(db),
		Subs:      subs,
		Analytics: analytics.NewEngine(db, insights),
		Accounts:  auth.NewAccounts(db),
		Tokens:    auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL, time.Now),
		Enricher:  enricher,
		Receipts:  store,
		Log:       log,
	})

	go sweepLoop(ctx, subs, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// receiptStore picks GCS when a bucket is configured and the local upload
// directory otherwise.
func receiptStore(ctx context.Context, cfg *config.Config) (receipts.Store, func(), error) {
	if cfg.ReceiptBucket != "" {
		gcs, err := receipts.NewGCSStore(ctx, cfg.ReceiptBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { _ = gcs.Close() }, nil
	}
	local, err := receipts.NewLocalStore(cfg.UploadDir, "/uploads")
	if err != nil {
		return nil, nil, err
	}
	return local, func() {}, nil
}

// sweepLoop periodically expires lapsed subscriptions until ctx ends.
func sweepLoop(ctx context.Context, subs *subscription.Service, every time.Duration) {
	if every <= 0 {
		return
	}
	log := logger.FromContext(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := subs.SweepExpired(ctx, now)
			if err != nil {
				log.Warn().Err(err).Msg("subscription sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("expired", n).Msg("subscriptions expired")
			}
		}
	}
}
