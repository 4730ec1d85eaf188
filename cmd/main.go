package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"socialbackend/clients/providers"
	"socialbackend/config"
	"socialbackend/db"
	"socialbackend/handlers"
	"socialbackend/metrics"
	"socialbackend/middleware"
	"socialbackend/salesnotif"
	"socialbackend/services/integrations"
	"socialbackend/services/oauthstate"
	"socialbackend/services/txmanager"
	"socialbackend/services/users"
	integrationsusecase "socialbackend/usecases/integrations"
	"socialbackend/utils/tokencipher"
)

func main() {
	if err := run(); err != nil {
		log.Printf("❌ Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize error alert middleware
	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.SlackAlertConfig{
		WebhookURL:  cfg.SlackConfig.AlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "socialbackend",
		LogsURL:     cfg.SlackConfig.LogsURL,
	})
	defer alertMiddleware.Wait()

	// Initialize database connection
	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Initialize repositories with shared connection
	usersRepo := db.NewPostgresUsersRepository(dbConn, cfg.DatabaseSchema)
	integrationsRepo := db.NewPostgresIntegrationsRepository(dbConn, cfg.DatabaseSchema)

	// Initialize transaction manager
	txManager := txmanager.NewTransactionManager(dbConn)

	cipher, err := tokencipher.New(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}

	appMetrics := metrics.NewMetrics()
	registry := providers.NewRegistryFromConfig(cfg)
	log.Printf("✅ Providers available: %s", strings.Join(registry.Identifiers(), ", "))

	usersService := users.NewUsersService(usersRepo)
	integrationsService := integrations.NewIntegrationsService(
		integrationsRepo,
		registry,
		txManager,
		cipher,
		appMetrics,
	)
	activityNotifier := salesnotif.New(cfg.SlackConfig.SalesWebhookURL, cfg.Environment, "socialbackend")
	defer activityNotifier.Wait()

	integrationsUseCase := integrationsusecase.NewIntegrationsUseCase(integrationsService, registry, appMetrics).
		WithNotifier(activityNotifier)

	stateStores, closeStateStore, err := newStateStoreProvider(cfg)
	if err != nil {
		return err
	}
	defer closeStateStore()

	integrationsHTTPHandler := handlers.NewIntegrationsHTTPHandler(integrationsUseCase, stateStores, cfg.FrontendURL)
	authMiddleware := middleware.NewClerkAuthMiddleware(usersService, cfg.ClerkConfig.SecretKey)

	// Create a new router
	router := mux.NewRouter()
	integrationsHTTPHandler.SetupEndpoints(router, authMiddleware)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	router.Handle("/metrics", appMetrics.Handler()).Methods("GET")

	// Setup CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Setup and handle graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server)
}

// newStateStoreProvider keeps OAuth state in Redis when configured, otherwise in cookies
func newStateStoreProvider(cfg *config.AppConfig) (oauthstate.StoreProvider, func(), error) {
	if !cfg.RedisConfig.IsConfigured() {
		return oauthstate.NewCookieStoreProvider(cfg.IsProduction()), func() {}, nil
	}

	client, err := oauthstate.NewRedisClient(cfg.RedisConfig.URL)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	store := oauthstate.NewRedisStateStore(client, "socialbackend:oauth")
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Printf("❌ Failed to close redis client: %v", err)
		}
	}
	return oauthstate.NewSharedStoreProvider(store), closeFn, nil
}

func handleGracefulShutdown(server *http.Server) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
