package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/samber/mo"

	"socialbackend/clients/providers"
	"socialbackend/config"
	"socialbackend/db"
	"socialbackend/metrics"
	"socialbackend/middleware"
	"socialbackend/models"
	"socialbackend/services/integrations"
	"socialbackend/services/txmanager"
	"socialbackend/utils"
	"socialbackend/utils/tokencipher"
)

type Options struct {
	Workers  int           `long:"workers"   default:"4"   description:"Number of integrations refreshed in parallel"`
	Window   time.Duration `long:"window"    default:"1h"  description:"Refresh tokens expiring within this window"`
	Provider string        `long:"provider"                description:"Only refresh integrations of this provider"`
	DryRun   bool          `long:"dry-run"                 description:"List candidates without refreshing them"`
	LockFile string        `long:"lock-file"               description:"Lock file path, defaults to a file in the temp directory"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.Printf("❌ Token refresh failed: %v", err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	log.Printf("🚀 Starting token refresh process...")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lock, err := utils.NewRunLock("refreshtokens", opts.LockFile)
	if err != nil {
		return err
	}
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("⚠️ Failed to release lock: %v", err)
		}
	}()

	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.SlackAlertConfig{
		WebhookURL:  cfg.SlackConfig.AlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "socialbackend-refreshtokens",
		LogsURL:     cfg.SlackConfig.LogsURL,
	})
	defer alertMiddleware.Wait()

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	cipher, err := tokencipher.New(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}

	integrationsRepo := db.NewPostgresIntegrationsRepository(dbConn, cfg.DatabaseSchema)
	service := integrations.NewIntegrationsService(
		integrationsRepo,
		providers.NewRegistryFromConfig(cfg),
		txmanager.NewTransactionManager(dbConn),
		cipher,
		metrics.NewMetrics(),
	)

	provider := mo.None[models.ProviderIdentifier]()
	if opts.Provider != "" {
		provider = mo.Some(models.ProviderIdentifier(opts.Provider))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := &refresher{
		service:  service,
		workers:  opts.Workers,
		window:   opts.Window,
		provider: provider,
		dryRun:   opts.DryRun,
	}

	task := alertMiddleware.WrapBackgroundTask("refresh tokens", func() error {
		summary, err := r.Run(ctx)
		log.Printf("📊 Summary: %s", summary)
		return err
	})
	return task()
}
