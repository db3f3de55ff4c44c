// Package api exposes a participant machine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"lra"
	"lra/circuit"
	"lra/event"
	"lra/logging"
	"lra/recovery"
)

// HeaderTx carries the transaction id on every protocol request.
const HeaderTx = "Long-Running-Action"

// DefaultRoot is the path the participant is served under.
const DefaultRoot = "/valid-cs-participant1"

// Server serves the participant protocol and a small JSON admin surface.
type Server struct {
	addr     string
	root     string
	machine  *lra.Machine
	recovery *recovery.Worker
	counter  *recovery.Counter
	journal  *event.Journal
	breakers []*circuit.Breaker
	logger   logging.Logger
	mux      *http.ServeMux
	server   *http.Server

	// State
	mu      sync.Mutex
	running bool
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithRoot sets the path the protocol routes are served under.
func WithRoot(root string) ServerOption {
	return func(s *Server) {
		s.root = "/" + strings.Trim(root, "/")
	}
}

// WithRecovery sets the worker that enlist requests register with.
func WithRecovery(w *recovery.Worker) ServerOption {
	return func(s *Server) {
		s.recovery = w
	}
}

// WithCounter sets the recovery pass expectation served by /accept.
func WithCounter(c *recovery.Counter) ServerOption {
	return func(s *Server) {
		s.counter = c
	}
}

// WithJournal sets the event journal served by the admin routes.
func WithJournal(j *event.Journal) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// WithBreakers lists the circuit breakers shown by the admin routes.
func WithBreakers(b ...*circuit.Breaker) ServerOption {
	return func(s *Server) {
		s.breakers = append(s.breakers, b...)
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a server for m.
func NewServer(m *lra.Machine, opts ...ServerOption) *Server {
	s := &Server{
		addr:    ":8080",
		root:    DefaultRoot,
		machine: m,
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.counter == nil {
		if s.recovery != nil {
			s.counter = s.recovery.Counter()
		} else {
			s.counter = &recovery.Counter{}
		}
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	p := &participantHandler{
		machine:  s.machine,
		recovery: s.recovery,
		counter:  s.counter,
		logger:   s.logger,
	}

	// Protocol routes
	for _, method := range []string{http.MethodGet, http.MethodPut} {
		s.mux.HandleFunc(method+" "+s.root+"/enlist-complete", p.HandleEnlistComplete)
		s.mux.HandleFunc(method+" "+s.root+"/enlist-compensate", p.HandleEnlistCompensate)
	}
	s.mux.HandleFunc("PUT "+s.root+"/complete", p.HandleComplete)
	s.mux.HandleFunc("PUT "+s.root+"/compensate", p.HandleCompensate)
	s.mux.HandleFunc("GET "+s.root+"/status", p.HandleStatus)
	s.mux.HandleFunc("PUT "+s.root+"/forget", p.HandleForget)
	s.mux.HandleFunc("PUT "+s.root+"/accept", p.HandleAccept)
	s.mux.HandleFunc("GET "+s.root+"/accept", p.HandleGetAccept)

	a := &adminHandler{
		machine:  s.machine,
		recovery: s.recovery,
		journal:  s.journal,
		breakers: s.breakers,
	}

	// Admin routes
	s.mux.HandleFunc("GET /admin/transactions", a.HandleListTransactions)
	s.mux.HandleFunc("GET /admin/transactions/{txID}", a.HandleGetTransaction)
	s.mux.HandleFunc("GET /admin/recovery/stats", a.HandleGetRecoveryStats)
	s.mux.HandleFunc("GET /admin/circuit-breakers", a.HandleGetCircuitBreakers)
	s.mux.HandleFunc("POST /admin/circuit-breakers/{name}/reset", a.HandleResetCircuitBreaker)
	s.mux.HandleFunc("GET /admin/events", a.HandleListEvents)
}

// Handle mounts an extra handler, such as the metrics endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Printf("listening on %s, participant under %s", s.addr, s.root)
	return srv.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// APIResponse is the envelope of admin responses.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the error of a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	ErrCodeUnavailable         = "UNAVAILABLE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeServiceNotFound     = "SERVICE_NOT_FOUND"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// writeText writes a protocol response. Bodies are bare status names, ids
// and counts.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
