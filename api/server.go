package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/agent"
	"github.com/etherwave-labs/ai-agent-playground/ledger"
	"github.com/etherwave-labs/ai-agent-playground/logger"
	"github.com/etherwave-labs/ai-agent-playground/trader"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Processor runs one decision cycle
type Processor interface {
	Process(ctx context.Context, text string) agent.Outcome
}

// TradeStore ledger view served by the API
type TradeStore interface {
	LoadAll() ([]ledger.Entry, error)
	Get(id int64) (ledger.Entry, bool, error)
	Remove(id int64) (bool, error)
	Summary() (ledger.Summary, error)
}

// CycleReader read access to the cycle journal
type CycleReader interface {
	Latest(ctx context.Context, n int) ([]*logger.CycleRecord, error)
	Backend() string
}

// Deps collaborators of the server; Positions is optional
type Deps struct {
	Processor Processor
	Trades    TradeStore
	Cycles    CycleReader
	Positions trader.PositionReader
	Symbol    string
	Exchange  string
}

// Server HTTP API server
type Server struct {
	router  *gin.Engine
	deps    Deps
	port    int
	started time.Time
}

// NewServer creates API server
func NewServer(deps Deps, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		deps:    deps,
		port:    port,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("📥 Request")
	}
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.Any("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/messages", s.handleMessage)

		api.GET("/trades", s.handleTrades)
		api.GET("/trades/:id", s.handleTrade)
		api.DELETE("/trades/:id", s.handleDeleteTrade)
		api.GET("/summary", s.handleSummary)
		api.GET("/positions", s.handlePositions)

		api.GET("/cycles", s.handleCycles)
		api.GET("/cycles/latest", s.handleLatestCycle)
	}

	s.router.NoRoute(func(c *gin.Context) {
		log.Warn().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Msg("❌ 404 - Route not found")
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("route not found: %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})
}

// Handler underlying http.Handler (tests, embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"exchange": s.deps.Exchange,
		"symbol":   s.deps.Symbol,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type outcomeResponse struct {
	agent.Outcome
	Error string `json:"error,omitempty"`
}

// handleMessage runs one decision cycle over the posted agent text
func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"text\": \"...\"}"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text cannot be empty"})
		return
	}

	out := s.deps.Processor.Process(agent.WithSource(c.Request.Context(), "api"), req.Text)

	status := http.StatusOK
	switch out.Kind {
	case agent.OutcomeBusy:
		status = http.StatusConflict
	case agent.OutcomeLedgerError:
		status = http.StatusInternalServerError
	}
	c.JSON(status, outcomeResponse{Outcome: out, Error: out.Reason()})
}

func (s *Server) handleTrades(c *gin.Context) {
	entries, err := s.deps.Trades.LoadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to load ledger: %v", err)})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleTrade(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, found, err := s.deps.Trades.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to load ledger: %v", err)})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("trade %d not found", id)})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleDeleteTrade(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	removed, err := s.deps.Trades.Remove(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to delete trade: %v", err)})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("trade %d not found", id)})
		return
	}
	log.Info().Int64("id", id).Msg("🗑  Trade deleted via API")
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleSummary(c *gin.Context) {
	sum, err := s.deps.Trades.Summary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to summarize ledger: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": sum,
		"text":    sum.Text(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "exchange does not report positions"})
		return
	}
	symbol := c.DefaultQuery("symbol", s.deps.Symbol)
	positions, err := s.deps.Positions.GetPositions(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("failed to get positions: %v", err)})
		return
	}
	if positions == nil {
		positions = []trader.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// handleCycles journal records, newest first (?limit=n, default 20, max 500)
func (s *Server) handleCycles(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}

	records, err := s.deps.Cycles.Latest(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get cycle logs: %v", err)})
		return
	}
	if records == nil {
		records = []*logger.CycleRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleLatestCycle(c *gin.Context) {
	records, err := s.deps.Cycles.Latest(c.Request.Context(), 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get cycle logs: %v", err)})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycles recorded yet"})
		return
	}
	c.JSON(http.StatusOK, records[0])
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Msgf("🌐 API server started at http://localhost%s", addr)
	log.Info().Msg("📊 API Documentation:")
	log.Info().Msg("  • POST   /api/messages        - Run one decision cycle (body: {text})")
	log.Info().Msg("  • GET    /api/trades          - Ledger entries")
	log.Info().Msg("  • GET    /api/trades/:id      - One ledger entry")
	log.Info().Msg("  • DELETE /api/trades/:id      - Remove a ledger entry")
	log.Info().Msg("  • GET    /api/summary         - Ledger summary")
	log.Info().Msg("  • GET    /api/positions       - Exchange positions")
	log.Info().Msgf("  • GET    /api/cycles?limit=n  - Cycle journal (%s)", s.deps.Cycles.Backend())
	log.Info().Msg("  • GET    /api/cycles/latest   - Latest cycle")
	log.Info().Msg("  • GET    /metrics             - Prometheus metrics")
	log.Info().Msg("  • GET    /health              - Health check")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Info().Msg("⏹ API server stopped")
	return nil
}
