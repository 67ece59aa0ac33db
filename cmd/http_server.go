package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/compliance"
	"github.com/hospitalos/authz/internal/consent"
	consentPostgres "github.com/hospitalos/authz/internal/consent/postgres"
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/grants"
	grantsPostgres "github.com/hospitalos/authz/internal/grants/postgres"
	"github.com/hospitalos/authz/internal/rbac"
	rbacPostgres "github.com/hospitalos/authz/internal/rbac/postgres"
	"github.com/hospitalos/authz/internal/token"
	"github.com/hospitalos/authz/internal/transport"
	"github.com/hospitalos/authz/internal/transport/rest"
	"github.com/hospitalos/authz/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that answers authorization and consent requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting http server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(log)
	parser := token.NewParser(config.Security.JWTSecret, config.Security.ClockSkew)

	roleRepo := rbacPostgres.NewRoleRepository(gormDB)
	permissionRepo := rbacPostgres.NewPermissionRepository(gormDB)
	userRoleRepo := rbacPostgres.NewUserRoleRepository(gormDB)
	grantRepo := grantsPostgres.NewGrantRepository(gormDB)
	consentRepo := consentPostgres.NewConsentRepository(gormDB)

	grantService := grants.NewService(grantRepo, eventBus, log, config.Security.BreakGlassMax)
	rbacService := rbac.NewService(roleRepo, permissionRepo, userRoleRepo, log)
	consentService := consent.NewService(consentRepo, eventBus, log)
	complianceService := compliance.NewService(consentService, grantService, log)
	authorizer := rbac.NewAuthorizer(roleRepo, userRoleRepo, grantService, log)

	baseHandler := transport.NewBaseHandler(log)
	rbacHandler := rbac.NewHandler(baseHandler, rbacService)
	grantsHandler := grants.NewHandler(baseHandler, grantService)
	consentHandler := consent.NewHandler(baseHandler, consentService)
	complianceHandler := compliance.NewHandler(baseHandler, complianceService)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, config, parser, authorizer,
		rbacHandler, grantsHandler, consentHandler, complianceHandler, log)

	return &Dependencies{
		Config: config,
		DB:     db,
		Router: router,
		Logger: log,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the shared connection pool. TranslateError maps
// driver duplicate-key failures onto gorm.ErrDuplicatedKey, which the
// repositories rely on for conflict detection.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormPostgres.New(gormPostgres.Config{
		Conn: db.DB,
	}), &gorm.Config{
		TranslateError: true,
	})
}
