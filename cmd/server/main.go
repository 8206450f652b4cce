package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vendora/escrow-api/internal/auth"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/config"
	"github.com/vendora/escrow-api/internal/database"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/gateway"
	"github.com/vendora/escrow-api/internal/payout"
	"github.com/vendora/escrow-api/internal/refund"
	"github.com/vendora/escrow-api/internal/reporting"
	"github.com/vendora/escrow-api/internal/settlement"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the escrow API server with graceful shutdown
// support. It sets up all required services, database connections, API
// routes and the background processors.
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestSellerAPIKey, auth.TestSellerAPISecret, "SELLER_TEST", types.RoleSeller)
	authService.RegisterAPICredentials(auth.TestAdminAPIKey, auth.TestAdminAPISecret, "", types.RoleAdmin)

	commissionService := commission.NewService(db)
	commissionHandlers := commission.NewGinHandlers(commissionService)

	escrowService := escrow.NewService(db, commissionService)
	escrowHandlers := escrow.NewGinHandlers(escrowService)

	provider := gateway.NewProvider("mockpay")

	refundService := refund.NewService(db, escrowService, commissionService, provider,
		cfg.GatewayMaxAttempts, cfg.ConflictMaxRetries)
	refundHandlers := refund.NewGinHandlers(refundService)

	settlementService := settlement.NewService(db, cfg.InvoiceTaxRate, cfg.DefaultCurrency)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	payoutService := payout.NewService(db, provider, cfg.GatewayMaxAttempts)
	payoutHandlers := payout.NewGinHandlers(payoutService)

	reportingService := reporting.NewService(db)
	reportingHandlers := reporting.NewGinHandlers(reportingService)

	// Create and start background processors
	releaseSweep := escrow.NewProcessor(escrowService, cfg.ReturnWindow, cfg.ReleaseInterval)
	payoutProcessor := payout.NewProcessor(payoutService, cfg.PayoutInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go releaseSweep.Start(processorCtx)
	go payoutProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret,
		authHandlers, commissionHandlers, escrowHandlers,
		refundHandlers, settlementHandlers, payoutHandlers, reportingHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the processors before the HTTP server so no new ledger work
	// starts during drain
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Refund/report/payout routes: Protected by JWT authentication
// - Internal routes: Protected by internal (admin) authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	commissionHandlers *commission.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	refundHandlers *refund.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
	payoutHandlers *payout.GinHandlers,
	reportingHandlers *reporting.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Refund routes
		refunds := v1.Group("/refunds")
		refunds.Use(middleware.JWTAuth(jwtSecret))
		{
			refunds.POST("", refundHandlers.ProcessRefundHandler())
			refunds.POST("/eligibility", refundHandlers.CheckEligibilityHandler())
			refunds.GET("/:refund_id", refundHandlers.GetRefundHandler())
		}

		// Reporting routes
		reports := v1.Group("/reports")
		reports.Use(middleware.JWTAuth(jwtSecret))
		{
			reports.GET("/commission-summary", reportingHandlers.CommissionSummaryHandler())
			reports.GET("/commission-summary/orders", reportingHandlers.CommissionOrdersHandler())
			reports.GET("/commission-summary/export", reportingHandlers.CommissionExportHandler())
		}

		// Payout routes
		payouts := v1.Group("/payouts")
		payouts.Use(middleware.JWTAuth(jwtSecret))
		{
			payouts.GET("", payoutHandlers.ListPayoutsHandler())
			payouts.GET("/:payout_id", payoutHandlers.GetPayoutHandler())
		}

		// Settlement routes
		settlements := v1.Group("/settlements")
		settlements.Use(middleware.JWTAuth(jwtSecret))
		{
			settlements.GET("", settlementHandlers.ListSettlementsHandler())
			settlements.GET("/:settlement_id", settlementHandlers.GetSettlementHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/orders/settled", escrowHandlers.OrderSettledHandler())
			internal.POST("/escrow/:entry_id/release", escrowHandlers.ReleaseHandler())
			internal.POST("/commission-rules", commissionHandlers.CreateRuleHandler())
			internal.GET("/commission-rules", commissionHandlers.ListRulesHandler())
			internal.POST("/commission-rules/:rule_id/active", commissionHandlers.SetRuleActiveHandler())
			internal.POST("/settlements/run", settlementHandlers.RunSettlementHandler())
			internal.POST("/payouts/schedule", payoutHandlers.SchedulePayoutHandler())
			internal.POST("/payouts/:payout_id/execute", payoutHandlers.ExecutePayoutHandler())
		}
	}
}
