package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/wagateway/internal/observability"
	"github.com/harun/wagateway/internal/tracing"
	"github.com/harun/wagateway/pkg/hub"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	directWriteTimeout     = 10 * time.Second
	maxMessageSize         = 64 * 1024
	maxRPCBodySize         = 1 << 20
)

// Server is the control API and dashboard endpoint.
type Server struct {
	host            string
	port            int
	shutdownTimeout time.Duration
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	origins         originPolicy
	limits          RateLimits
	clients         *ClientRegistry
	router          *RPCRouter
	auth            *AuthHandler
	hub             *hub.Hub
	sessions        SessionController
	health          *Health
	metrics         http.Handler
	audit           *observability.AuditLogger
	logger          zerolog.Logger
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	inFlightReqs    sync.WaitGroup
	stopOnce        sync.Once
	stopErr         error
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	SharedSecret    string
	AllowedOrigins  []string
	RateLimits      RateLimits
	ShutdownTimeout time.Duration
	Sessions        SessionController
	Hub             *hub.Hub
	Health          *Health
	MetricsHandler  http.Handler
	// Audit records session mutations and auth decisions. Optional.
	Audit  *observability.AuditLogger
	Logger zerolog.Logger
}

// NewServer creates a new gateway server. Port 0 picks a free port on Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session controller is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("event hub is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Health == nil {
		cfg.Health = NewHealth()
	}

	origins := newOriginPolicy(cfg.AllowedOrigins)
	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		origins:         origins,
		limits:          cfg.RateLimits.withDefaults(),
		clients:         NewClientRegistry(),
		router:          NewRPCRouter(),
		auth:            NewAuthHandler(cfg.SharedSecret),
		hub:             cfg.Hub,
		sessions:        cfg.Sessions,
		health:          cfg.Health,
		metrics:         cfg.MetricsHandler,
		audit:           cfg.Audit,
		logger:          cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: origins.checkWebSocketOrigin,
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP routes served by the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.health.LivenessHandler())
	mux.HandleFunc("/readyz", s.health.ReadinessHandler())
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Router exposes the RPC router for maintenance and extra methods.
func (s *Server) Router() *RPCRouter {
	return s.router
}

// Health returns the readiness tracker served on /readyz.
func (s *Server) Health() *Health {
	return s.health
}

// Stop announces shutdown to dashboards, waits for in-flight requests,
// flushes and closes every subscriber and stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()
	s.health.SetDraining()

	s.logger.Info().Msg("Shutting down gateway server")

	s.hub.Publish(hub.EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-timer.C:
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.hub.Close(flushCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to flush subscribers")
	}

	// Clients that never authenticated are not on the hub.
	for _, client := range s.clients.GetAll() {
		if !client.Subscribed() {
			client.Conn.Close()
		}
	}

	if s.server != nil {
		if err := s.server.Shutdown(flushCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// beginRequest registers an in-flight request unless shutdown has started.
func (s *Server) beginRequest() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "WhatsApp gateway is running",
	})
}

// handleWebSocket upgrades a dashboard connection. Without a shared secret
// the client is subscribed immediately; otherwise it must answer the
// challenge first.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		IPAddress:    remoteIP(r),
		RateLimiter:  NewClientRateLimiter(s.limits),
		lastActivity: now,
		state:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", client.IPAddress).
		Msg("Client connected")

	if s.auth.Enabled() {
		challenge, err := s.auth.IssueChallenge(client)
		if err == nil {
			err = s.writeDirect(client, challenge)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to send auth challenge")
			conn.Close()
			s.clients.Remove(clientID)
			return
		}
	} else {
		client.mu.Lock()
		client.authenticated = true
		client.state = StateAuthenticated
		client.mu.Unlock()
		if err := s.subscribe(client); err != nil {
			s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to subscribe client")
			conn.Close()
			s.clients.Remove(clientID)
			return
		}
	}

	go s.handleClient(client)
}

func (s *Server) subscribe(client *Client) error {
	if _, err := s.hub.Attach(client.ID, client.Conn); err != nil {
		return err
	}
	client.setSubscribed(true)
	return nil
}

// handleClient reads frames until the connection fails or the hub closes it.
func (s *Server) handleClient(client *Client) {
	defer func() {
		if client.Subscribed() {
			s.hub.Detach(client.ID)
		} else {
			client.Conn.Close()
		}
		client.mu.Lock()
		client.state = StateDisconnected
		client.mu.Unlock()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage handles a single frame from a client
func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.Authenticated() {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	allowed, code, reason := client.RateLimiter.Acquire()
	if !allowed {
		s.sendError(client, req.ID, code, reason)
		return
	}
	if !s.beginRequest() {
		client.RateLimiter.Release()
		s.sendError(client, req.ID, ShuttingDown, "Server is shutting down")
		return
	}

	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.Release()

		ctx := tracing.NewContext(context.Background(), &tracing.TraceContext{
			TraceID:   tracing.NewTraceID(),
			ClientID:  client.ID,
			RequestID: req.ID,
		})
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().Str("method", req.Method).Msg("Gateway received WebSocket RPC request")

		response := s.router.RouteRequest(ctx, req)
		if response.Error != nil {
			logger.Debug().Int("code", response.Error.Code).Str("error", response.Error.Message).Msg("RPC request failed")
		}
		s.reply(client, response)
	}()
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.origins.applyCORS(w, r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.VerifySecret(r.Header.Get(secretHeader)) {
		s.audit.RecordSecurity(r.Context(), "rpc.unauthorized", remoteIP(r), "failure", nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("", rpcErr))
		return
	}

	if !s.beginRequest() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(req.ID, &RPCError{
			Code:    ShuttingDown,
			Message: "Server is shutting down",
		}))
		return
	}
	defer s.inFlightReqs.Done()

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get(traceIDHeader))
	ctx = tracing.WithRequestID(ctx, req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)

	w.Header().Set(traceIDHeader, tracing.GetTraceID(ctx))
	writeJSON(w, http.StatusOK, resp)
}

// handleAuthMessage handles authentication messages
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	if !s.auth.Enabled() || client.Authenticated() {
		s.sendError(client, "", InvalidRequest, "Already authenticated")
		return
	}

	result, exhausted := s.auth.HandleAuthResponse(client, authResp.Signature)
	if err := s.writeDirect(client, result); err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send auth result")
		client.Conn.Close()
		return
	}

	if !result.Success {
		s.logger.Warn().
			Str("client_id", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")
		s.audit.RecordSecurity(context.Background(), "auth.failed", client.ID, "failure", map[string]interface{}{
			"ip":         client.IPAddress,
			"locked_out": exhausted,
		})
		if exhausted {
			client.Conn.Close()
		}
		return
	}

	if err := s.subscribe(client); err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to subscribe client")
		client.Conn.Close()
		return
	}
	s.audit.RecordSecurity(context.Background(), "auth.succeeded", client.ID, "success", map[string]interface{}{
		"ip": client.IPAddress,
	})
	s.logger.Info().Str("client_id", client.ID).Msg("Client authenticated")
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	s.reply(client, errorResponse(requestID, &RPCError{
		Code:    code,
		Message: message,
	}))
}

// reply routes a frame through the hub for subscribed clients so it is
// ordered with broadcast events; unsubscribed clients are written directly.
func (s *Server) reply(client *Client, v interface{}) {
	var err error
	if client.Subscribed() {
		err = s.hub.Send(client.ID, v)
		if errors.Is(err, hub.ErrNotAttached) {
			return
		}
	} else {
		err = s.writeDirect(client, v)
	}
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Msg("Failed to send response")
	}
}

// writeDirect is only used before the client is handed to the hub, while
// the connection handler is the sole writer.
func (s *Server) writeDirect(client *Client, v interface{}) error {
	if err := client.Conn.SetWriteDeadline(time.Now().Add(directWriteTimeout)); err != nil {
		return err
	}
	return client.Conn.WriteJSON(v)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
