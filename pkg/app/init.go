package app

import (
	"context"
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"go-wanderer/pkg/cache"
	"go-wanderer/pkg/config"
	"go-wanderer/pkg/logging"
)

// AppContext holds the shared application context and dependencies
type AppContext struct {
	Config           *config.Config
	Cache            *cache.Cache
	TelemetryManager *logging.TelemetryManager
	ServiceName      string
	shutdownFuncs    []func(context.Context) error
}

// InitializeApp initializes common application dependencies
func InitializeApp(serviceName string) (*AppContext, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	ctx := context.Background()

	// Initialize telemetry
	telemetryManager := logging.NewTelemetryManager()
	if err := telemetryManager.Initialize(ctx); err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
		// Continue without telemetry rather than failing
	}

	// Typed configuration; fatal on invalid required settings
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store := cache.New()
	slog.Info("Cache initialized")

	appCtx := &AppContext{
		Config:           cfg,
		Cache:            store,
		TelemetryManager: telemetryManager,
		ServiceName:      serviceName,
	}

	if telemetryManager != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, telemetryManager.Shutdown)
	}

	return appCtx, nil
}

// RegisterShutdown appends a shutdown hook, run in registration order.
func (a *AppContext) RegisterShutdown(fn func(context.Context) error) {
	a.shutdownFuncs = append(a.shutdownFuncs, fn)
}

// Shutdown gracefully shuts down all application dependencies
func (a *AppContext) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down application", "service", a.ServiceName)

	for _, shutdown := range a.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}

	slog.Info("Application shutdown completed", "service", a.ServiceName)
	return nil
}

// GetPort returns the port from environment or default
func GetPort(defaultPort string) string {
	return config.GetEnv("PORT", defaultPort)
}
