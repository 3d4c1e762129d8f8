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

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/booking-payments/internal"
	auditsvc "github.com/frahmantamala/booking-payments/internal/audit"
	auditpg "github.com/frahmantamala/booking-payments/internal/audit/postgres"
	bookingsvc "github.com/frahmantamala/booking-payments/internal/booking"
	bookingpg "github.com/frahmantamala/booking-payments/internal/booking/postgres"
	catalogsvc "github.com/frahmantamala/booking-payments/internal/catalog"
	catalogpg "github.com/frahmantamala/booking-payments/internal/catalog/postgres"
	"github.com/frahmantamala/booking-payments/internal/core/events"
	ledgersvc "github.com/frahmantamala/booking-payments/internal/ledger"
	ledgerpg "github.com/frahmantamala/booking-payments/internal/ledger/postgres"
	"github.com/frahmantamala/booking-payments/internal/notification"
	"github.com/frahmantamala/booking-payments/internal/paymentprovider"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
	"github.com/frahmantamala/booking-payments/internal/transport/rest"
	"github.com/frahmantamala/booking-payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	GormDB         *gorm.DB
	Router         *chi.Mux
	Logger         *slog.Logger
	TaskQueue      *paymentsync.TaskQueue
	PaymentHandler *paymentsync.Handler
	LedgerHandler  *ledgersvc.Handler
	CatalogHandler *catalogsvc.Handler
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.PaymentHandler, deps.LedgerHandler, deps.CatalogHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		// drain queued bookkeeping before closing the database
		deps.TaskQueue.Shutdown(ctx)
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	// repositories
	bookingRepo := bookingpg.NewBookingRepository(gormDB)
	ledgerRepo := ledgerpg.NewLedgerRepository(gormDB)
	auditRepo := auditpg.NewAuditRepository(gormDB)
	catalogRepo := catalogpg.NewCatalogRepository(gormDB)

	// services
	bookingService := bookingsvc.NewService(bookingRepo, appLogger)
	ledgerService := ledgersvc.NewService(ledgerRepo, appLogger)
	auditService := auditsvc.NewService(auditRepo, appLogger)
	catalogService := catalogsvc.NewService(catalogRepo, appLogger)

	provider := paymentprovider.NewClient(paymentprovider.Config{
		APIBaseURL:     config.Provider.APIBaseURL,
		APIKey:         config.Provider.APIKey,
		RequestTimeout: config.Provider.RequestTimeout,
	}, appLogger)

	eventBus := events.NewEventBus(appLogger)
	notificationHandler := notification.NewEventHandler(notification.NewConsoleNotifier(appLogger), appLogger)
	notificationHandler.RegisterEventHandlers(eventBus)

	taskQueue := paymentsync.NewTaskQueue(paymentsync.TaskQueueConfig{
		MaxWorkers: config.Background.MaxWorkers,
		QueueSize:  config.Background.QueueSize,
	}, appLogger)

	engine := paymentsync.NewEngine(
		bookingRepo,
		provider,
		catalogService,
		ledgerService,
		auditService,
		eventBus,
		taskQueue,
		config.Provider.Currency,
		appLogger,
	)

	return &Dependencies{
		Config:         config,
		Logger:         appLogger,
		DB:             db,
		GormDB:         gormDB,
		Router:         chi.NewRouter(),
		TaskQueue:      taskQueue,
		PaymentHandler: paymentsync.NewHandler(engine, bookingService, appLogger),
		LedgerHandler:  ledgersvc.NewHandler(ledgerService, appLogger),
		CatalogHandler: catalogsvc.NewHandler(catalogService, appLogger),
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

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
