package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"synochat/pkg/config"
	"synochat/pkg/plugin"
	"synochat/pkg/webhook"
)

const shutdownTimeout = 5 * time.Second

// Service hosts the webhook route next to health and readiness endpoints.
type Service struct {
	cfg    *config.Config
	log    *slog.Logger
	mux    *http.ServeMux
	plugin *plugin.Plugin

	mu        sync.RWMutex
	startedAt time.Time
	serving   bool
}

type statusResponse struct {
	Status             string `json:"status"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	WebhookPath        string `json:"webhook_path"`
	OutboundConfigured bool   `json:"outbound_configured"`
}

// NewService registers the webhook plugin with handler on a fresh mux.
func NewService(cfg *config.Config, handler webhook.Handler, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	opts, err := PluginOptions(cfg, handler, log)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	p, err := plugin.Register(mux, opts)
	if err != nil {
		return nil, fmt.Errorf("register webhook: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		log:    log.With("component", "gateway.service"),
		mux:    mux,
		plugin: p,
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	return s, nil
}

// Plugin returns the registered adapter, used for outbound sends.
func (s *Service) Plugin() *plugin.Plugin {
	return s.plugin
}

// Handler returns the gateway's routes.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Addr returns the configured listen address.
func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = config.DefaultGatewayHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = config.DefaultGatewayPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	addr := s.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.serving = true
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("Gateway server started", "address", addr, "webhook_path", s.plugin.Path())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("serve gateway: %w", err)
		}
		close(serverErrors)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrors:
		s.setServing(false)
		return err
	}

	s.setServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}

	s.log.Info("Gateway server stopped")
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return statusResponse{
		Status:             status,
		UptimeSeconds:      uptime,
		WebhookPath:        s.plugin.Path(),
		OutboundConfigured: strings.TrimSpace(s.cfg.Sender.WebhookURL) != "",
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serving
}

func (s *Service) setServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = serving
}
