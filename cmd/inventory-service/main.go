package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cultivar/cultivar-backend/internal/inventory/consumers"
	"github.com/cultivar/cultivar-backend/internal/inventory/events"
	"github.com/cultivar/cultivar-backend/internal/inventory/handler"
	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/internal/inventory/service"
	"github.com/cultivar/cultivar-backend/pkg/config"
	"github.com/cultivar/cultivar-backend/pkg/database"
	"github.com/cultivar/cultivar-backend/pkg/httputil"
	"github.com/cultivar/cultivar-backend/pkg/logger"
	"github.com/cultivar/cultivar-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("inventory-service", cfg.Server.Environment)
	log.Info().Msg("starting Inventory Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewInventoryEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	lotRepo := repository.NewLotRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	userCacheRepo := repository.NewUserCacheRepository(db)

	// Initialize services
	inventoryService := service.NewInventoryService(itemRepo, lotRepo, movementRepo, log)
	allocationService := service.NewAllocationService(lotRepo, log)
	ledgerService := service.NewLedgerService(db, itemRepo, lotRepo, movementRepo, userCacheRepo, publisher, log)
	adjustmentService := service.NewAdjustmentService(itemRepo, lotRepo, ledgerService, log)
	stockService := service.NewStockService(itemRepo, lotRepo, cfg.Inventory.ExpiringSoonDays, log)

	// Initialize handlers
	itemHandler := handler.NewItemHandler(inventoryService, log)
	lotHandler := handler.NewLotHandler(inventoryService, ledgerService, log)
	stockHandler := handler.NewStockHandler(allocationService, ledgerService, adjustmentService, stockService, inventoryService, log)

	// Start user event consumer
	userConsumer, err := consumers.NewUserEventConsumer(rmq, userCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := userConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "http://localhost:3000" || origin == "http://localhost:5173" {
				return true
			}
			if strings.HasSuffix(origin, ".cultivar.io") || origin == "https://cultivar.io" {
				return true
			}
			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.ActorContext)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "inventory-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/inventory", func(r chi.Router) {
		// Item catalog
		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.List)
			r.Post("/", itemHandler.Create)
			r.Get("/{id}", itemHandler.Get)
			r.Put("/{id}", itemHandler.Update)
			r.Delete("/{id}", itemHandler.Delete)

			// Lots and stock reads
			r.Get("/{id}/lots", lotHandler.ListByItem)
			r.Get("/{id}/balance", stockHandler.Balance)
			r.Get("/{id}/expiry", stockHandler.Expiry)
			r.Get("/{id}/movements", stockHandler.Movements)

			// Stock operations
			r.Post("/{id}/plan", stockHandler.Plan)
			r.Post("/{id}/consume", stockHandler.Consume)
			r.Post("/{id}/receive", stockHandler.Receive)
			r.Post("/{id}/adjust", stockHandler.Adjust)
			r.Post("/{id}/adjust/preview", stockHandler.PreviewAdjust)
		})

		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Get("/{id}", lotHandler.Get)
			r.Get("/{id}/movements", lotHandler.Movements)
			r.Post("/{id}/dispose", lotHandler.Dispose)
		})

		// Reports
		r.Get("/reports/expiring", stockHandler.ExpiringReport)

		// Dashboard
		r.Get("/dashboard/stock", stockHandler.Overview)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
