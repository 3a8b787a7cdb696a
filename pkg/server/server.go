// Package server exposes the extraction sessions over HTTP: a websocket
// endpoint for streaming conversations, a one-shot REST endpoint, health,
// and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spanstream/spanstream/internal/metrics"
	"github.com/spanstream/spanstream/pkg/extract"
	"github.com/spanstream/spanstream/pkg/session"
)

// ExtractorBuilder constructs the extraction backend for one session or
// one-shot request. Tests substitute fakes here.
type ExtractorBuilder func(opts extract.Options) (extract.Extractor, error)

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	IdleTTL       time.Duration
	SweepSchedule string

	// Options supplies the current default extraction options; it is
	// consulted per connection so prompt reloads reach new sessions.
	Options func() extract.Options

	// Credentials select providers when NewExtractor is not overridden.
	Credentials extract.Credentials

	// NewExtractor overrides backend construction. Defaults to the
	// provider-backed LLM extractor.
	NewExtractor ExtractorBuilder

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Server is the streaming extraction server
type Server struct {
	host          string
	port          int
	idleTTL       time.Duration
	sweepSchedule string
	server        *http.Server
	upgrader      websocket.Upgrader
	clients       *ClientRegistry
	options       func() extract.Options
	newExtractor  ExtractorBuilder
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	cron          *cron.Cron

	rootCtx        context.Context
	rootCancel     context.CancelFunc
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Options == nil {
		return nil, fmt.Errorf("options source is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}

	newExtractor := cfg.NewExtractor
	if newExtractor == nil {
		factory := extract.NewProviderFactory(cfg.Credentials)
		newExtractor = func(opts extract.Options) (extract.Extractor, error) {
			provider, err := factory.NewProvider(opts)
			if err != nil {
				return nil, err
			}
			return extract.NewLLMExtractor(opts, provider)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		idleTTL:       cfg.IdleTTL,
		sweepSchedule: cfg.SweepSchedule,
		clients:       NewClientRegistry(),
		options:       cfg.Options,
		newExtractor:  newExtractor,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		cron:          cron.New(),
		rootCtx:       ctx,
		rootCancel:    cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	return s, nil
}

// routes builds the HTTP handler tree.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/extract", s.handleExtract)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.routes(),
	}

	if _, err := s.cron.AddFunc(s.sweepSchedule, s.sweepIdleClients); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.sweepSchedule, err)
	}
	s.cron.Start()

	s.logger.Info().
		Str("host", s.host).
		Int("port", s.port).
		Msg("Starting extraction server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down extraction server")

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	// Wait for in-flight frames with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight frames completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rootCancel()

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Extraction server stopped")
	return nil
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	opts, aggregate, err := s.sessionOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Configuration problems are fatal before the upgrade, never
	// mid-session.
	sess, err := s.newSession(opts, aggregate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		Aggregate:    aggregate,
	}

	s.clients.Add(client)
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Str("model", opts.ModelID).
		Bool("aggregate", aggregate).
		Msg("Client connected")

	go s.serveClient(client, sess, opts)
}

// newSession builds a session with an instrumented extraction backend.
func (s *Server) newSession(opts extract.Options, aggregate bool) (*session.Session, error) {
	backend, err := s.newExtractor(opts)
	if err != nil {
		return nil, err
	}
	backend = &instrumentedExtractor{inner: backend, model: opts.ModelID, metrics: s.metrics}

	return session.New(session.Config{
		Aggregate:       aggregate,
		Backend:         backend,
		BufferThreshold: opts.MaxCharBuffer,
		Logger:          s.logger,
	})
}

// serveClient runs one connection's frame loop. Frames are processed
// strictly in arrival order; the next frame is not read until the current
// one's outcome has been written.
func (s *Server) serveClient(client *Client, sess *session.Session, opts extract.Options) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.metrics.ConnectionsActive.Dec()
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	emit := func(o session.Outcome) error {
		s.metrics.FramesTotal.WithLabelValues(string(o.Type)).Inc()
		if n := len(o.Extractions); n > 0 {
			s.metrics.SpansEmittedTotal.Add(float64(n))
		}
		return client.Conn.WriteJSON(o)
	}

	info := session.Outcome{
		Type:    session.OutcomeInfo,
		Message: fmt.Sprintf("connected; model_id=%s; aggregate=%t", opts.ModelID, sess.Aggregate()),
	}
	if err := emit(info); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send info")
		return
	}

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)

		s.inFlightReqs.Add(1)
		err = sess.HandleFrame(s.rootCtx, message, emit)
		s.inFlightReqs.Done()
		if err != nil {
			s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send outcome")
			return
		}
	}
}

// sessionOptions derives the effective extraction options for a connection
// from the configured defaults plus query-parameter overrides.
func (s *Server) sessionOptions(r *http.Request) (extract.Options, bool, error) {
	opts := s.options()
	q := r.URL.Query()

	if v := q.Get("model_id"); v != "" {
		opts.ModelID = v
	}
	if v := q.Get("model_url"); v != "" {
		opts.ModelURL = v
	}
	if v := q.Get("use_schema_constraints"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("invalid use_schema_constraints: %s", v)
		}
		opts.SchemaConstraints = b
	}
	if v := q.Get("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, false, fmt.Errorf("invalid temperature: %s", v)
		}
		opts.Temperature = f
	}
	if v := q.Get("max_char_buffer"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, false, fmt.Errorf("invalid max_char_buffer: %s", v)
		}
		opts.MaxCharBuffer = n
	}

	aggregate := false
	if v := q.Get("aggregate"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("invalid aggregate: %s", v)
		}
		aggregate = b
	}

	return opts, aggregate, nil
}

// handleExtract handles one-shot extraction requests. The turns are
// flattened exactly as aggregate mode flattens them, extraction runs once,
// and the full span list is returned.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages must be provided")
		return
	}

	opts := s.options()
	if req.ModelID != "" {
		opts.ModelID = req.ModelID
	}
	if req.UseSchemaConstraints != nil {
		opts.SchemaConstraints = *req.UseSchemaConstraints
	}
	if req.MaxCharBuffer > 0 {
		opts.MaxCharBuffer = req.MaxCharBuffer
	}
	if req.Temperature != 0 {
		opts.Temperature = req.Temperature
	}
	if req.ModelURL != "" {
		opts.ModelURL = req.ModelURL
	}

	backend, err := s.newExtractor(opts)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	backend = &instrumentedExtractor{inner: backend, model: opts.ModelID, metrics: s.metrics}

	requestID := uuid.NewString()
	text := extract.FlattenMessages(req.Messages)

	logger := s.logger.With().Str("requestId", requestID).Str("model", opts.ModelID).Logger()
	logger.Info().Int("messages", len(req.Messages)).Msg("One-shot extraction request")

	doc, err := backend.Extract(r.Context(), text)
	if err != nil {
		failure := &extract.Failure{Cause: err}
		logger.Error().Err(failure).Msg("One-shot extraction failed")
		s.writeError(w, http.StatusInternalServerError, failure.Error())
		return
	}

	resp := ExtractResponse{
		ModelID:     opts.ModelID,
		Text:        doc.Text,
		Extractions: session.SpanPayloads(doc.Spans),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Detail: detail})
}

// sweepIdleClients closes connections idle past the TTL. The read loop
// observes the close and unregisters the client.
func (s *Server) sweepIdleClients() {
	idle := s.clients.IdleClients(s.idleTTL)
	for _, client := range idle {
		s.logger.Info().
			Str("clientId", client.ID).
			Time("lastActivity", client.LastActivity).
			Msg("Closing idle connection")
		client.Conn.Close()
		s.metrics.ConnectionsSwept.Inc()
	}
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
