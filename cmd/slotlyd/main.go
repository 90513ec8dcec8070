package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotly-backend/config"
	"slotly-backend/internal/api"
	"slotly-backend/internal/booking"
	"slotly-backend/internal/db"
	"slotly-backend/internal/live"
	"slotly-backend/internal/mw"
	"slotly-backend/internal/notification"
	"slotly-backend/internal/report"
	"slotly-backend/internal/store"
	"slotly-backend/internal/sweeper"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"
)

const visitorIdleTimeout = 10 * time.Minute

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "slotly ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.Secret == "" {
		logger.Fatalf("auth.secret must be configured to verify bearer tokens")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("VAPID keys are not configured; push notifications will fail")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatalf("failed to get database handle: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	reports := report.NewReader(sqlDB, db.DriverName(gormDB))

	// Event consumers: websocket clients and push subscribers.
	hub := live.NewHub()
	go hub.Run(ctx)
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	pool.Start(ctx)

	bookingSvc := booking.NewService(cfg.Booking, appStore, booking.Publishers{hub, pool})

	sweeperSvc := sweeper.NewService(cfg.Sweeper, bookingSvc)
	go sweeperSvc.Run(ctx)

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(visitorIdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(visitorIdleTimeout); n > 0 {
					logger.Printf("rate limiter: forgot %d idle visitors", n)
				}
			}
		}
	}()

	// Initialize router
	handler := api.NewHandler(appStore, bookingSvc, reports, &webpushOptions, cfg.Booking.Location)
	auth := api.NewAuthenticator(cfg.Auth, appStore)
	router := api.NewRouter(cfg.Server, handler, auth, api.RouterOptions{
		Live:    hub.Handle,
		Limiter: limiter,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	cancel()
	hub.Wait()
	if err := sqlDB.Close(); err != nil {
		logger.Printf("closing database: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
