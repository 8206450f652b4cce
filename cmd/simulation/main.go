package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
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
)

const (
	minOrders     = 15
	maxOrders     = 120
	numWorkers    = 5
	refundShare   = 0.3
	serverAddress = "http://localhost:8080"
	simSellerID   = "SELLER_TEST"
)

var categories = []string{"ELECTRONICS", "FASHION", "HOME", "TOYS", ""}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the escrow API
type simulationClient struct {
	baseURL     string
	sellerToken string
	adminToken  string
	client      *http.Client
	stats       map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates both roles and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":       {name: "Authentication"},
			"rule":       {name: "Create Rule"},
			"order":      {name: "Order Settled"},
			"refund":     {name: "Process Refund"},
			"release":    {name: "Release Hold"},
			"settlement": {name: "Run Settlement"},
			"payout":     {name: "Schedule Payout"},
			"report":     {name: "Commission Report"},
		},
	}

	sellerToken, err := sc.authenticate(auth.TestSellerAPIKey, auth.TestSellerAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate seller: %w", err)
	}
	sc.sellerToken = sellerToken

	adminToken, err := sc.authenticate(auth.TestAdminAPIKey, auth.TestAdminAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate admin: %w", err)
	}
	sc.adminToken = adminToken

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// post sends an authenticated JSON POST and decodes the response envelope
// into out. An Idempotency-Key header is attached when key is non-empty.
func (sc *simulationClient) post(statKey, token, path, key string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// get sends an authenticated GET and decodes the response envelope into out.
func (sc *simulationClient) get(statKey, token, path string, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// createRule provisions the commission rules the simulated orders will match
func (sc *simulationClient) createRule(input commission.CreateRuleInput) (string, error) {
	var rule commission.Rule
	if err := sc.post("rule", sc.adminToken, "/api/v1/internal/commission-rules", "", input, &rule); err != nil {
		return "", err
	}
	return rule.RuleID, nil
}

// orderSettled submits one settled-order intake event and returns the hold
func (sc *simulationClient) orderSettled(event types.OrderSettledEvent) (*escrow.HoldResponse, error) {
	var hold escrow.HoldResponse
	if err := sc.post("order", sc.adminToken, "/api/v1/internal/orders/settled", uuid.New().String(), event, &hold); err != nil {
		return nil, err
	}
	if hold.EntryID == "" {
		return nil, fmt.Errorf("no entry ID in response")
	}
	return &hold, nil
}

// processRefund requests a partial refund as the seller
func (sc *simulationClient) processRefund(cmd types.ProcessPartialRefundCommand) (*refund.Refund, error) {
	var result refund.Refund
	if err := sc.post("refund", sc.sellerToken, "/api/v1/refunds", uuid.New().String(), cmd, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// releaseHold releases one escrow entry through the internal surface
func (sc *simulationClient) releaseHold(entryID string) (*escrow.Entry, error) {
	var entry escrow.Entry
	path := fmt.Sprintf("/api/v1/internal/escrow/%s/release", entryID)
	if err := sc.post("release", sc.adminToken, path, "", nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// runSettlement closes the current month for the simulated seller
func (sc *simulationClient) runSettlement(year, month int) (*settlement.SettlementResponse, error) {
	request := settlement.RunRequest{SellerID: simSellerID, Year: year, Month: month}
	var result settlement.SettlementResponse
	if err := sc.post("settlement", sc.adminToken, "/api/v1/internal/settlements/run", "", request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// schedulePayout schedules a payout over released entries
func (sc *simulationClient) schedulePayout(entryIDs []string) (*payout.PayoutResponse, error) {
	request := payout.ScheduleRequest{SellerID: simSellerID, EntryIDs: entryIDs}
	var result payout.PayoutResponse
	if err := sc.post("payout", sc.adminToken, "/api/v1/internal/payouts/schedule", "", request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// commissionSummary fetches the seller's commission summary
func (sc *simulationClient) commissionSummary() (*reporting.CommissionSummary, error) {
	var summary reporting.CommissionSummary
	if err := sc.get("report", sc.sellerToken, "/api/v1/reports/commission-summary", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the escrow lifecycle simulation
// It starts a local API server and drives orders through hold, refund,
// release, settlement and payout
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Provision commission rules: a platform default plus a category override
	defaultRule, err := simClient.createRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create default rule")
	}
	electronicsRule, err := simClient.createRule(commission.CreateRuleInput{
		CategoryID: "ELECTRONICS",
		Rate:       decimal.RequireFromString("0.07"),
		MaxAmount:  decimal.NewNullDecimal(decimal.RequireFromString("50.00")),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create category rule")
	}
	log.Info().
		Str("default_rule", defaultRule).
		Str("electronics_rule", electronicsRule).
		Msg("Commission rules provisioned")

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect created holds
	holdsChan := make(chan *escrow.HoldResponse, targetOrders)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			settleOrdersHTTP(workerID, targetOrders/numWorkers, simClient, holdsChan)
		}(i)
	}

	// Wait for all orders to be settled into escrow
	wg.Wait()
	close(holdsChan)

	var holds []*escrow.HoldResponse
	for hold := range holdsChan {
		holds = append(holds, hold)
	}
	log.Info().Int("holds_created", len(holds)).Msg("All escrow holds created")

	// Collect statistics during processing
	stats := struct {
		TotalOrders     int
		Refunds         int
		FailedRefunds   int
		Released        int
		FailedReleases  int
		TotalHeld       decimal.Decimal
		TotalRefunded   decimal.Decimal
		TotalCommission decimal.Decimal
		StartTime       time.Time
		Categories      map[string]int
	}{
		TotalOrders:     len(holds),
		TotalHeld:       decimal.Zero,
		TotalRefunded:   decimal.Zero,
		TotalCommission: decimal.Zero,
		StartTime:       time.Now(),
		Categories:      make(map[string]int),
	}

	// Refund a share of the orders partially
	for _, hold := range holds {
		stats.TotalHeld = stats.TotalHeld.Add(hold.Amount)
		stats.TotalCommission = stats.TotalCommission.Add(hold.Commission)

		if rand.Float64() >= refundShare {
			continue
		}

		// Pace requests under the refund rate limit.
		time.Sleep(time.Duration(600+rand.Intn(200)) * time.Millisecond)

		refundAmount := hold.Amount.Mul(decimal.RequireFromString("0.25")).Round(2)
		if refundAmount.IsZero() {
			continue
		}
		result, err := simClient.processRefund(types.ProcessPartialRefundCommand{
			OrderID:              hold.OrderID,
			PaymentTransactionID: "PAY_" + hold.OrderID,
			SellerID:             hold.SellerID,
			Amount:               refundAmount,
			Reason:               "simulated partial return",
			InitiatedByUserID:    simSellerID,
			InitiatedByRole:      types.RoleSeller,
		})
		if err != nil {
			log.Error().Err(err).Str("order_id", hold.OrderID).Msg("Failed to process refund")
			stats.FailedRefunds++
			continue
		}
		if result.Status == refund.StatusSucceeded {
			stats.Refunds++
			stats.TotalRefunded = stats.TotalRefunded.Add(result.Amount)
			log.Info().
				Str("refund_id", result.RefundID).
				Str("order_id", hold.OrderID).
				Str("amount", result.Amount.String()).
				Str("commission_reversal", result.CommissionReversal.String()).
				Msg("Refund processed")
		} else {
			stats.FailedRefunds++
			log.Warn().
				Str("refund_id", result.RefundID).
				Str("status", result.Status).
				Msg("Refund did not succeed")
		}
	}

	// Release the remaining holds so they become payable
	var releasedIDs []string
	for _, hold := range holds {
		entry, err := simClient.releaseHold(hold.EntryID)
		if err != nil {
			log.Error().Err(err).Str("entry_id", hold.EntryID).Msg("Failed to release hold")
			stats.FailedReleases++
			continue
		}
		stats.Released++
		releasedIDs = append(releasedIDs, entry.EntryID)
	}

	// Close the month
	now := time.Now().UTC()
	settled, err := simClient.runSettlement(now.Year(), int(now.Month()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to run settlement")
	}
	log.Info().
		Str("settlement_id", settled.Settlement.SettlementID).
		Str("net_sales", settled.Settlement.NetSales.String()).
		Str("total_commission", settled.Settlement.TotalCommission.String()).
		Str("net_payable", settled.Settlement.NetPayable.String()).
		Msg("Settlement finalized")

	// Schedule the payout over everything released
	var scheduledPayout *payout.PayoutResponse
	if len(releasedIDs) > 0 {
		scheduledPayout, err = simClient.schedulePayout(releasedIDs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule payout")
		}
		log.Info().
			Str("payout_id", scheduledPayout.Payout.PayoutID).
			Str("amount", scheduledPayout.Payout.Amount.String()).
			Int("entries", scheduledPayout.Payout.EntryCount).
			Msg("Payout scheduled")
	}

	// Pull the commission report as the seller
	summary, err := simClient.commissionSummary()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch commission summary")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ESCROW SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Ledger Statistics
-----------------
Total Orders:      %d
Total Held:        %s
Total Commission:  %s
Refunds Applied:   %d
Refunds Failed:    %d
Total Refunded:    %s
Entries Released:  %d
Net Sales:         %s
Net Payable:       %s
Reported Net Comm: %s
Duration:          %v
`, stats.TotalOrders, stats.TotalHeld.StringFixed(2), stats.TotalCommission.StringFixed(2),
		stats.Refunds, stats.FailedRefunds, stats.TotalRefunded.StringFixed(2),
		stats.Released, settled.Settlement.NetSales.StringFixed(2),
		settled.Settlement.NetPayable.StringFixed(2), summary.NetCommission.StringFixed(2),
		duration.Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// settleOrdersHTTP generates and submits random settled-order events
// Runs as a worker goroutine, sending created holds to holdsChan
func settleOrdersHTTP(workerID, numOrders int, simClient *simulationClient, holdsChan chan<- *escrow.HoldResponse) {
	for i := 0; i < numOrders; i++ {
		orderID := "ORD_" + uuid.New().String()
		amount := decimal.NewFromInt(int64(rand.Intn(95000)+500)).Div(decimal.NewFromInt(100))
		event := types.OrderSettledEvent{
			OrderID:              orderID,
			SellerID:             simSellerID,
			PaymentTransactionID: "PAY_" + orderID,
			CategoryID:           categories[rand.Intn(len(categories))],
			Amount:               amount,
			Currency:             "USD",
		}

		hold, err := simClient.orderSettled(event)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("order_id", orderID).
				Msg("Failed to settle order into escrow")
			continue
		}

		holdsChan <- hold
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("entry_id", hold.EntryID).
			Str("order_id", hold.OrderID).
			Str("amount", hold.Amount.String()).
			Str("commission", hold.Commission.String()).
			Msg("Escrow hold created")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the escrow API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Load()
	cfg.DBPath = "file::memory:?cache=shared"

	// Initialize database
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(auth.TestSellerAPIKey, auth.TestSellerAPISecret, simSellerID, types.RoleSeller)
	authService.RegisterAPICredentials(auth.TestAdminAPIKey, auth.TestAdminAPISecret, "", types.RoleAdmin)

	commissionService := commission.NewService(db)
	escrowService := escrow.NewService(db, commissionService)
	provider := gateway.NewProvider("mockpay")
	refundService := refund.NewService(db, escrowService, commissionService, provider,
		cfg.GatewayMaxAttempts, cfg.ConflictMaxRetries)
	settlementService := settlement.NewService(db, cfg.InvoiceTaxRate, cfg.DefaultCurrency)
	payoutService := payout.NewService(db, provider, cfg.GatewayMaxAttempts)
	reportingService := reporting.NewService(db)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	commissionHandlers := commission.NewGinHandlers(commissionService)
	escrowHandlers := escrow.NewGinHandlers(escrowService)
	refundHandlers := refund.NewGinHandlers(refundService)
	settlementHandlers := settlement.NewGinHandlers(settlementService)
	payoutHandlers := payout.NewGinHandlers(payoutService)
	reportingHandlers := reporting.NewGinHandlers(reportingService)

	// Setup routes
	setupRoutes(router, cfg.JWTSecret,
		authHandlers, commissionHandlers, escrowHandlers,
		refundHandlers, settlementHandlers, payoutHandlers, reportingHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
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

		// Internal routes
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
