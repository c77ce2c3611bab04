package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/audit"
	"github.com/skylens/skylens-ai/internal/config"
	"github.com/skylens/skylens-ai/internal/db"
	"github.com/skylens/skylens-ai/internal/llm/provider/openai"
	"github.com/skylens/skylens-ai/internal/middleware"
	"github.com/skylens/skylens-ai/internal/orchestrator"
	"github.com/skylens/skylens-ai/internal/session"
	"github.com/skylens/skylens-ai/internal/tools"
)

// Server wires the skylens-ai components behind the HTTP API.
type Server struct {
	config *config.Config
	logger *zap.Logger

	store    session.Store
	engine   *orchestrator.Engine
	archive  *db.Store
	auditLog audit.Logger
	hub      *wsHub

	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates the server and initializes all components.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

func (s *Server) initializeComponents() error {
	// 1. Audit archive (SQLite)
	archive, err := db.Open(s.config.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open audit archive: %w", err)
	}
	s.archive = archive

	// 2. Audit logger with rotation
	auditCfg := audit.DefaultConfig()
	auditCfg.AppLogPath = s.config.Logging.AppLogPath
	auditCfg.AuditLogPath = s.config.Logging.AuditLogPath
	auditCfg.LogLevel = s.config.Logging.Level
	auditLog, err := audit.NewLogger(auditCfg, archive)
	if err != nil {
		return fmt.Errorf("initialize audit logger: %w", err)
	}
	s.auditLog = auditLog

	// 3. Session store
	s.store = session.NewMemoryStore()

	// 4. Completion client
	llm, err := openai.NewClient(s.config.LLM.APIKey, s.config.LLM.Model, s.config.LLM.BaseURL)
	if err != nil {
		return fmt.Errorf("initialize completion client: %w", err)
	}

	// 5. Tool registry
	registry, err := tools.NewRegistry(tools.FlightTools(s.store))
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	// 6. WebSocket hub and orchestration engine
	s.hub = newWSHub(s.logger, s.config.Server.AllowedOrigins)
	s.engine = orchestrator.NewEngine(llm, registry, s.logger, auditLog, orchestrator.Options{
		MaxIterations: s.config.Orchestrator.MaxIterations,
		SuspendTTL:    time.Duration(s.config.Orchestrator.SuspendTTLMinutes) * time.Minute,
		OnToolEvent:   s.hub.broadcastToolEvent,
	})

	if s.config.Server.RateLimitPerMinute > 0 {
		s.rateLimiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
	}

	return nil
}

// routes builds the HTTP handler tree.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/session", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/session/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)

	r.HandleFunc("/chat-tools", s.handleChatTools).Methods(http.MethodPost)
	r.HandleFunc("/tool-reply", s.handleToolReply).Methods(http.MethodPost)
	r.HandleFunc("/tool-reply-batch", s.handleToolReplyBatch).Methods(http.MethodPost)

	r.HandleFunc("/ws/chat", s.hub.handleWebSocket).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var handler http.Handler = r
	if s.rateLimiter != nil {
		handler = s.rateLimiter.Middleware(handler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(handler)
}

// Start begins serving HTTP and starts the suspension janitor.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go s.runJanitor()

	_ = s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithDescription("skylens-ai server started"))

	s.running = true
	return nil
}

// runJanitor periodically evicts suspended conversations past their TTL.
func (s *Server) runJanitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.engine.SweepExpired(); n > 0 {
				s.logger.Info("evicted expired suspended conversations", zap.Int("count", n))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	_ = s.auditLog.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess).
		WithDescription("skylens-ai server stopping"))

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.hub.closeAll()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.wg.Wait()

	if err := s.auditLog.Close(); err != nil {
		s.logger.Warn("audit logger close", zap.Error(err))
	}
	if err := s.archive.Close(); err != nil {
		s.logger.Warn("archive close", zap.Error(err))
	}

	s.running = false
	return nil
}
