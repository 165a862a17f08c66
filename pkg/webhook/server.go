// Package webhook receives document lifecycle events over HTTP and
// publishes them on the event bus, where the task dispatcher turns them
// into executions.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/pkg/events"
	"github.com/rs/zerolog"
)

// Server is the document webhook listener
type Server struct {
	options     ServerOptions
	publisher   events.Publisher
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startTime   time.Time
	server      *http.Server

	inFlight     sync.WaitGroup
	shutdownMu   sync.RWMutex
	shuttingDown bool
}

// NewServer creates a server publishing to publisher
func NewServer(options ServerOptions, publisher events.Publisher, logger zerolog.Logger) (*Server, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	options.applyDefaults()
	if options.SignatureAlgorithm != "sha256" && options.SignatureAlgorithm != "sha1" {
		return nil, fmt.Errorf("unsupported signature algorithm %q", options.SignatureAlgorithm)
	}

	observability.EnsureRegistered()
	return &Server{
		options:     options,
		publisher:   publisher,
		rateLimiter: NewRateLimiter(options.MaxRequestsPerMin),
		logger:      logger,
		startTime:   time.Now(),
	}, nil
}

// Handler returns the routes without starting a listener
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /documents/{kind}/{id}", s.handleDocument)
	return mux
}

// Start listens on options.Addr until Stop
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.options.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.options.Addr).Msg("Starting webhook server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start webhook server: %w", err)
	}
	return nil
}

// Stop refuses new requests, waits for in-flight ones and shuts down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.options.ShutdownWait):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
	}

	s.rateLimiter.Stop()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown webhook server: %w", err)
	}
	s.logger.Info().Msg("Webhook server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	kind := r.PathValue("kind")
	id := r.PathValue("id")
	logger := s.logger.With().Str("kind", kind).Str("id", id).Logger()

	code := s.serveDocument(w, r, kind, id, logger)
	observability.RecordWebhookRequest(kind, code, time.Since(start))
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request, kind, id string, logger zerolog.Logger) int {
	s.shutdownMu.RLock()
	if s.shuttingDown {
		s.shutdownMu.RUnlock()
		return httpError(w, http.StatusServiceUnavailable, "server is shutting down")
	}
	s.inFlight.Add(1)
	s.shutdownMu.RUnlock()
	defer s.inFlight.Done()

	ip := clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		logger.Warn().Str("ip", ip).Int("retryAfter", retryAfter).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		return httpError(w, http.StatusTooManyRequests, "too many requests")
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httpError(w, http.StatusRequestEntityTooLarge, "body too large")
		}
		return httpError(w, http.StatusBadRequest, "failed to read body")
	}

	if s.options.Secret != "" {
		signature := r.Header.Get(s.options.SignatureHeader)
		if signature == "" || !verifySignature(body, signature, s.options.Secret, s.options.SignatureAlgorithm) {
			logger.Warn().Str("ip", ip).Bool("missing", signature == "").Msg("Invalid webhook signature")
			return httpError(w, http.StatusUnauthorized, "invalid signature")
		}
	}

	var req DocumentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return httpError(w, http.StatusBadRequest, "body must be a JSON object")
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		return httpError(w, http.StatusBadRequest, "event is required")
	}

	ev := events.DocumentEvent{Kind: kind, ID: id, Event: req.Event, Doc: req.Doc}
	if err := s.publisher.Publish(r.Context(), events.TopicDocuments, ev); err != nil {
		logger.Error().Err(err).Msg("Failed to publish document event")
		return httpError(w, http.StatusInternalServerError, "failed to publish event")
	}

	logger.Info().Str("event", req.Event).Str("ip", ip).Msg("Document event accepted")
	writeJSON(w, http.StatusAccepted, DocumentResponse{Accepted: true, Kind: kind, ID: id, Event: req.Event})
	return http.StatusAccepted
}

// clientIP prefers proxy headers over the socket address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func httpError(w http.ResponseWriter, code int, msg string) int {
	writeJSON(w, code, map[string]string{"error": msg})
	return code
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
