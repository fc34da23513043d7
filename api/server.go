package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/liveboard/liveboard/auth"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/unicodecheck"
	"github.com/liveboard/liveboard/whiteboard"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Options wires the server's collaborators.
type Options struct {
	Registry  *whiteboard.Registry
	Snapshots *whiteboard.SnapshotStore
	Hub       *whiteboard.Hub
	Auth      *auth.Middleware
	// AllowedOrigins restricts browser WebSocket origins. Empty allows all.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics      http.Handler
	HealthChecks map[string]HealthCheck
	// RejectTimeout bounds writing the close frame of a refused socket.
	RejectTimeout time.Duration
}

// Server is the main API server instance
type Server struct {
	registry  *whiteboard.Registry
	snapshots *whiteboard.SnapshotStore
	hub       *whiteboard.Hub
	auth      *auth.Middleware
	metrics   http.Handler
	checks    map[string]HealthCheck
	upgrader  websocket.Upgrader

	rejectTimeout time.Duration
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	s := &Server{
		registry:      opts.Registry,
		snapshots:     opts.Snapshots,
		hub:           opts.Hub,
		auth:          opts.Auth,
		metrics:       opts.Metrics,
		checks:        opts.HealthChecks,
		rejectTimeout: opts.RejectTimeout,
	}
	if s.rejectTimeout <= 0 {
		s.rejectTimeout = 5 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		slogging.Get().Warn("No WebSocket allowed origins configured, accepting any origin")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return s
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// NewRouter builds the gin engine with tracing, logging and recovery.
func NewRouter(s *Server, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(slogging.LoggerMiddleware())
	r.Use(slogging.Recoverer())
	s.RegisterHandlers(r)
	return r
}

// RegisterHandlers registers the REST, socket and operational routes.
func (s *Server) RegisterHandlers(r *gin.Engine) {
	r.GET("/health", s.Health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	// The socket authenticates itself so refusals can be sent as close frames.
	r.GET("/ws/whiteboard/:id", s.HandleWebSocket)

	wb := r.Group("/whiteboard/sessions", s.auth.AuthRequired())
	wb.POST("", s.CreateSession)
	wb.GET("", s.ListSessions)
	wb.GET("/active", s.ListActiveSessions)
	wb.GET("/:id", s.GetSession)
	wb.POST("/:id/join", s.JoinSession)
	wb.POST("/:id/end", s.EndSession)
	wb.GET("/:id/snapshots", s.ListSnapshots)
	wb.POST("/:id/snapshots", s.SaveSnapshot)
}

// HandleWebSocket upgrades the request and hands the connection to the
// hub. Authentication failures are reported with close code 1008 after
// the upgrade, since browsers cannot read a refused handshake.
func (s *Server) HandleWebSocket(c *gin.Context) {
	logger := slogging.FromGin(c)
	sessionID := c.Param("id")
	logID := unicodecheck.SanitizeForLogging(sessionID)

	id, authErr := s.auth.Authenticate(c.Request)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logger.Warn("WebSocket upgrade failed for session %s: %v", logID, err)
		return
	}
	if authErr != nil {
		logger.Info("Rejecting unauthenticated socket for session %s: %v", logID, authErr)
		whiteboard.Reject(conn, authErr, s.rejectTimeout)
		return
	}

	_ = s.hub.Open(c.Request.Context(), conn, sessionID, id)
}

// Health reports dependency status and hub load.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	stats := s.hub.Stats()
	resp.Groups = stats.Groups
	resp.Connections = stats.Connections

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
