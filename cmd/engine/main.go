// Package main is the zigQuant trading engine daemon: an HTTP surface in
// front of a LiveRunner, wiring config/logging/telemetry, the
// ExecutionEngine's risk checks and durable state store, and a simulated
// exchange until a real venue adapter is configured.
//
// Grounded on order-matching-engine's cmd/server/main.go for the overall
// shape (flag parsing, signal handling, graceful-shutdown goroutine with a
// bounded context) — retargeted from direct matching-engine calls to the
// runner.LiveRunner contract.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	clockadapter "github.com/zigquant/engine/internal/adapters/clock"
	"github.com/zigquant/engine/internal/adapters/exchange/simulated"
	filestore "github.com/zigquant/engine/internal/adapters/statestore/file"
	"github.com/zigquant/engine/internal/bus"
	"github.com/zigquant/engine/internal/cache"
	"github.com/zigquant/engine/internal/config"
	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
	"github.com/zigquant/engine/internal/execution"
	"github.com/zigquant/engine/internal/events"
	"github.com/zigquant/engine/internal/logging"
	"github.com/zigquant/engine/internal/matching"
	"github.com/zigquant/engine/internal/risk"
	"github.com/zigquant/engine/internal/runner"
	"github.com/zigquant/engine/internal/telemetry"
)

// Server exposes a LiveRunner over HTTP.
type Server struct {
	cfg    config.Config
	run    *runner.LiveRunner
	logger *zap.Logger

	httpServer *http.Server
}

func main() {
	fs := flag.NewFlagSet("engine", flag.ExitOnError)
	yamlPath := fs.String("config", "", "optional YAML config file")
	port := fs.Int("port", 8080, "HTTP port")
	symbols := fs.String("symbols", "AAPL,GOOGL,MSFT,AMZN,TSLA", "comma-separated tradable symbols")

	cfg, err := config.Load(fs, os.Args[1:], *yamlPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := NewServer(cfg, *port, strings.Split(*symbols, ","), logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		cancel()
	}()

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("engine stopped")
}

// NewServer wires every component a LiveRunner needs: a matching engine
// behind the simulated ExchangeClient, the file-backed StateStore, risk
// checks, and the HTTP mux.
func NewServer(cfg config.Config, port int, symbols []string, logger *zap.Logger) (*Server, error) {
	b := bus.New()
	c := cache.New(b)
	tel := &telemetry.Counters{}

	me := matching.NewEngine()
	for _, s := range symbols {
		me.AddSymbol(strings.TrimSpace(s))
	}
	exchange := simulated.New(me)

	store, err := filestore.Open(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open state store: %w", err)
	}

	execCfg := execution.DefaultConfig()
	execCfg.SubmitTimeout = time.Duration(cfg.SubmissionTimeoutMs) * time.Millisecond
	execCfg.CancelTimeout = time.Duration(cfg.SubmissionTimeoutMs) * time.Millisecond
	execCfg.QueryRetryMax = cfg.QueryRetryMax
	execCfg.CancelOrphanOrders = cfg.CancelOrphanOrders

	riskChecker := risk.NewChecker(risk.DefaultConfig())
	exec := execution.New(execCfg, b, c, exchange, store, clockadapter.NewWall(), riskChecker, tel, logger)

	eventLog, err := events.NewLog(events.LogConfig{Path: cfg.CheckpointDir + "/events.log"})
	if err != nil {
		return nil, fmt.Errorf("engine: open event log: %w", err)
	}

	lc := runner.DefaultLiveConfig()
	lc.CheckpointEvery = time.Duration(cfg.CheckpointIntervalMs) * time.Millisecond
	if cfg.SubmissionTimeoutMs > 0 {
		lc.SubmitWaitTimeout = time.Duration(cfg.SubmissionTimeoutMs) * time.Millisecond
	}

	live := runner.NewLiveRunner(lc, exec, nil, eventLog, tel, logger)

	srv := &Server{cfg: cfg, run: live, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/order", srv.handleOrder)
	mux.HandleFunc("/cancel", srv.handleCancel)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/health", srv.handleHealth)

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Start runs the LiveRunner in the background and serves HTTP until ctx is
// canceled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.run.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("runner stopped with error", zap.Error(err))
		}
	}()
	s.logger.Info("starting engine", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new HTTP requests, then stops the runner (which
// itself drains the dispatcher, checkpoints, and closes the event log).
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.run.Stop()
	return nil
}

type orderRequest struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Qty       string `json:"qty"`
	AccountID string `json:"account_id,omitempty"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	ClientID     uint64 `json:"client_id,omitempty"`
	ExchangeID   string `json:"exchange_id,omitempty"`
	Status       string `json:"status,omitempty"`
	FilledQty    string `json:"filled_qty,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, orderResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, orderResponse{Error: err.Error()})
		return
	}
	orderType, err := parseOrderType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, orderResponse{Error: err.Error()})
		return
	}

	qty, err := decimal.FromString(req.Qty)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, orderResponse{Error: fmt.Sprintf("invalid qty: %v", err)})
		return
	}
	var price decimal.Decimal
	if req.Price != "" {
		price, err = decimal.FromString(req.Price)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, orderResponse{Error: fmt.Sprintf("invalid price: %v", err)})
			return
		}
	}

	intent := &domain.Order{
		Symbol:    req.Symbol,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Qty:       qty,
		AccountID: req.AccountID,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := s.run.Submit(ctx, intent)
	if err != nil {
		var execErr *execution.Error
		if errors.As(err, &execErr) && execErr.Kind == execution.KindRejected {
			writeJSON(w, http.StatusBadRequest, orderResponse{RejectReason: execErr.Reason})
			return
		}
		writeJSON(w, http.StatusBadGateway, orderResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		Success:    true,
		ClientID:   order.ClientID,
		ExchangeID: order.ExchangeID,
		Status:     order.Status.String(),
		FilledQty:  order.FilledQty.String(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIDStr := r.URL.Query().Get("client_id")
	if clientIDStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id required"})
		return
	}
	var clientID uint64
	if _, err := fmt.Sscanf(clientIDStr, "%d", &clientID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid client_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.run.Cancel(ctx, clientID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.run.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               stats.Status.String(),
		"orders_submitted":     stats.OrdersSubmitted,
		"orders_filled":        stats.OrdersFilled,
		"orders_rejected":      stats.OrdersRejected,
		"orders_canceled":      stats.OrdersCanceled,
		"orders_uncertain":     stats.OrdersUncertain,
		"invariant_violations": stats.InvariantViolations,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseSide(s string) (domain.Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return domain.SideBuy, nil
	case "sell":
		return domain.SideSell, nil
	default:
		return 0, fmt.Errorf("invalid side: must be 'buy' or 'sell'")
	}
}

func parseOrderType(s string) (domain.OrderType, error) {
	switch strings.ToLower(s) {
	case "market":
		return domain.OrderTypeMarket, nil
	case "limit":
		return domain.OrderTypeLimit, nil
	case "stop":
		return domain.OrderTypeStop, nil
	case "stop_limit", "stoplimit":
		return domain.OrderTypeStopLimit, nil
	default:
		return 0, fmt.Errorf("invalid type: must be 'market', 'limit', 'stop', or 'stop_limit'")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
