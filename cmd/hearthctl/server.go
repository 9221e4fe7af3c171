package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dkossnick/hearthctl/afcp"
	afcphttp "github.com/dkossnick/hearthctl/afcp/transport/http"
	"github.com/dkossnick/hearthctl/config"
	"github.com/dkossnick/hearthctl/internal/metrics"
	"github.com/dkossnick/hearthctl/internal/server"
)

// Server is hearthctl's demo HTTP facade around an afcp.Plane: it exposes
// /route and /consensus over JSON, plus /health and a separate OpenMetrics
// /metrics endpoint.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	plane *afcp.Plane

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector *metrics.Collector

	wg sync.WaitGroup
}

// NewServer returns an unstarted Server for cfg. Start wires a fresh
// afcp.Plane from cfg.Plane, using the reference HTTP transport
// (optionally JWT-signed) to reach registered agents.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start brings up the control plane and both listeners. Non-blocking.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("hearthctl", s.logger)

	var transportOpts []afcphttp.Option
	if s.cfg.JWT.Secret != "" {
		transportOpts = append(transportOpts, afcphttp.WithAgentToken(s.cfg.JWT.Secret, s.cfg.JWT.Issuer, s.cfg.JWT.Audience, 5*time.Minute))
	}
	transport := afcphttp.New(transportOpts...)

	s.plane = afcp.New(context.Background(), afcp.Options{
		Transport: transport,
		Logger:    s.logger,
		Admission: afcp.AdmissionOptions{
			WindowLength: s.cfg.Plane.Admission.WindowLength,
			MaxRequests:  s.cfg.Plane.Admission.MaxRequests,
			Burst:        s.cfg.Plane.Admission.Burst,
		},
		Health: afcp.HealthOptions{
			TickInterval:        s.cfg.Plane.Health.TickInterval,
			OfflineThreshold:    s.cfg.Plane.Health.OfflineThreshold,
			DecayMultiplicative: s.cfg.Plane.Health.DecayMultiplicative,
			DecayAdditive:       s.cfg.Plane.Health.DecayAdditive,
		},
	})

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("control plane started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/agents/register", s.handleRegister)
	mux.HandleFunc("/route", s.handleRoute)
	mux.HandleFunc("/consensus", s.handleConsensus)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		SecurityHeaders(),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics-internal", promhttp.Handler())
	mux.HandleFunc("/metrics", s.handlePlaneMetrics)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a shutdown signal or server error, then
// tears everything down gracefully.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the HTTP listeners and the control plane's health ticker.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	ctx := context.Background()
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.plane != nil {
		s.plane.Close()
	}
	s.wg.Wait()
	s.logger.Info("shutdown complete")
}

// --- handlers -----------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.plane.List(afcp.ListFilter{})
	writeJSON(w, http.StatusOK, agents)
}

type registerRequest struct {
	ID           string   `json:"id"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
	LoadAvg      float64  `json:"load_avg"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	stored, err := s.plane.Register(afcp.Agent{
		ID:           req.ID,
		Endpoint:     req.Endpoint,
		Capabilities: req.Capabilities,
		LoadAvg:      req.LoadAvg,
	})
	if err != nil {
		writeAFCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type routeRequest struct {
	Capability       string `json:"capability"`
	Payload          string `json:"payload"`
	ClientID         string `json:"client_id"`
	StickySessionKey string `json:"sticky_session_key"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}

	opts := afcp.DefaultRouteOptions()
	opts.StickySessionKey = req.StickySessionKey
	if s.cfg != nil && s.cfg.Plane.RouteTimeout > 0 {
		opts.Timeout = s.cfg.Plane.RouteTimeout
	}

	result, err := s.plane.Route(r.Context(), req.Capability, []byte(req.Payload), opts, req.ClientID)
	if err != nil {
		writeAFCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

type consensusRequest struct {
	Capability string  `json:"capability"`
	Proposal   string  `json:"proposal"`
	Quorum     float64 `json:"quorum"`
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	var req consensusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}

	opts := afcp.DefaultConsensusOptions()
	if s.cfg != nil && s.cfg.Plane.ConsensusTimeout > 0 {
		opts.Timeout = s.cfg.Plane.ConsensusTimeout
	}
	if req.Quorum > 0 {
		opts.Quorum = req.Quorum
	}

	result, err := s.plane.Consensus(r.Context(), req.Capability, []byte(req.Proposal), opts)
	if err != nil {
		writeAFCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePlaneMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := s.plane.Metrics()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to render metrics"))
		return
	}
	w.Header().Set("Content-Type", "application/openmetrics-text; version=1.0.0; charset=utf-8")
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// writeAFCPError translates an *afcp.Error into an HTTP status and JSON body
// per its ErrorKind.
func writeAFCPError(w http.ResponseWriter, err error) {
	kind := afcp.GetErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case afcp.ErrInvalidInput:
		status = http.StatusBadRequest
	case afcp.ErrUnknownAgent, afcp.ErrNoAgentAvailable:
		status = http.StatusNotFound
	case afcp.ErrRateLimited:
		status = http.StatusTooManyRequests
	case afcp.ErrTimeout:
		status = http.StatusGatewayTimeout
	case afcp.ErrAgentError:
		status = http.StatusBadGateway
	case afcp.ErrCancelled:
		status = 499
	}
	writeJSON(w, status, errorBody(err.Error()))
}
