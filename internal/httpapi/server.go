package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"go.uber.org/zap"
)

// DefaultKeepaliveInterval is how often idle event streams receive a ping
const DefaultKeepaliveInterval = 15 * time.Second

// ErrEmptySecret is returned when authentication is enabled without a secret key
var ErrEmptySecret = errors.New("secret key is required unless no-auth is set")

// Config holds server configuration
type Config struct {
	// ListenAddress is the host:port to listen on (e.g., ":8081")
	ListenAddress string

	// SecretKey signs host tokens
	SecretKey string

	// NoAuth disables token checks for development
	NoAuth bool

	// KeepaliveInterval between pings on idle event streams
	KeepaliveInterval time.Duration
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8081"
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.SecretKey == "" && !c.NoAuth {
		return ErrEmptySecret
	}
	return nil
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	metrics    http.Handler
	server     *http.Server
	logger     *zap.Logger

	// baseCtx parents every request context; cancelled on Stop to end open streams
	baseCtx      context.Context
	cancelStream context.CancelFunc
}

// NewServer creates a new HTTP API server. metrics may be nil, in which case
// /metrics is not served.
func NewServer(config Config, r relay.Relay, hub *StreamHub, metrics http.Handler, logger *zap.Logger) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}
	if r == nil {
		return nil, errors.New("relay cannot be nil")
	}
	if hub == nil {
		return nil, errors.New("stream hub cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NoAuth {
		logger.Warn("authentication disabled, every request is accepted")
	}

	jwtAuth := NewJWTAuth(config.SecretKey)
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(r, hub, jwtAuth, config.KeepaliveInterval, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		metrics:    metrics,
		logger:     logger,

		baseCtx:      baseCtx,
		cancelStream: cancel,
	}

	// No WriteTimeout: event streams stay open for the life of the host
	s.server = &http.Server{
		Addr:              config.ListenAddress,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.server.RegisterOnShutdown(s.cancelStream)
	return s, nil
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop is called.
// It returns nil after a graceful stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http api listening", zap.String("address", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Host message endpoints (auth required)
	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AuthRequired(s.handlers.PostMessage)))
	mux.Handle("/api/v1/messages/stream", withMiddleware(s.middleware.AuthRequired(s.handlers.StreamMessages)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "pumprelay HTTP API",
		"description": "Relays host commands to an insulin pump and pump events back to hosts",
		"endpoints": map[string]string{
			"login":   "POST /api/v1/auth/login",
			"message": "POST /api/v1/messages",
			"stream":  "GET /api/v1/messages/stream?topic={topic}",
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for message endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
