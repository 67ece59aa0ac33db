package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hospitalos/authz/internal/compliance/postgres"
	"github.com/hospitalos/authz/internal/consent"
	consentPostgres "github.com/hospitalos/authz/internal/consent/postgres"
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/grants"
	grantsPostgres "github.com/hospitalos/authz/internal/grants/postgres"
	"github.com/hospitalos/authz/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the expiry sweeper",
	Long:  `Run the cron-scheduled housekeeping that deactivates expired grants and marks expired consents. Read paths stay correct without it; the sweeper only keeps the tables tidy.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeper()
	},
}

func startSweeper() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	gormDB, err := initGorm(db)
	if err != nil {
		log.Error("failed to initialize orm", "error", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(log)
	grantService := grants.NewService(grantsPostgres.NewGrantRepository(gormDB), eventBus, log, cfg.Security.BreakGlassMax)
	consentService := consent.NewService(consentPostgres.NewConsentRepository(gormDB), eventBus, log)
	tenantRepo := postgres.NewTenantRepository(gormDB)

	scheduler := cron.New()

	_, err = scheduler.AddFunc(cfg.Sweeper.GrantCleanupSchedule, func() {
		sweepTenants(log, tenantRepo, "grant cleanup", func(ctx context.Context, tenantID string) (int64, error) {
			return grantService.CleanupExpired(ctx, tenantID)
		})
	})
	if err != nil {
		log.Error("invalid grant cleanup schedule", "error", err, "schedule", cfg.Sweeper.GrantCleanupSchedule)
		os.Exit(1)
	}

	_, err = scheduler.AddFunc(cfg.Sweeper.ConsentExpirySchedule, func() {
		sweepTenants(log, tenantRepo, "consent expiry", func(ctx context.Context, tenantID string) (int64, error) {
			return consentService.MarkExpiredConsents(ctx, tenantID)
		})
	})
	if err != nil {
		log.Error("invalid consent expiry schedule", "error", err, "schedule", cfg.Sweeper.ConsentExpirySchedule)
		os.Exit(1)
	}

	scheduler.Start()
	log.Info("sweeper started",
		"grant_schedule", cfg.Sweeper.GrantCleanupSchedule,
		"consent_schedule", cfg.Sweeper.ConsentExpirySchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("received signal, stopping sweeper", "signal", sig)
	ctx := scheduler.Stop()
	<-ctx.Done()
	if err := db.Close(); err != nil {
		log.Error("database close error", "error", err)
	}
	log.Info("sweeper stopped")
}

type tenantLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// sweepTenants runs one housekeeping pass per active tenant. A failure in one
// tenant is logged and does not stop the others.
func sweepTenants(log *slog.Logger, tenants tenantLister, job string, fn func(ctx context.Context, tenantID string) (int64, error)) {
	ctx := context.Background()
	ids, err := tenants.ListActiveIDs(ctx)
	if err != nil {
		log.Error("failed to list tenants", "job", job, "error", err)
		return
	}

	var total int64
	for _, tenantID := range ids {
		count, err := fn(ctx, tenantID)
		if err != nil {
			log.Error("sweep failed for tenant", "job", job, "tenant_id", tenantID, "error", err)
			continue
		}
		total += count
	}
	log.Info("sweep pass complete", "job", job, "tenants", len(ids), "affected", total)
}
