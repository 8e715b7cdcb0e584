package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"casedesk/internal/config"
)

// Server is the development relay: hub, outbox, fan-out and HTTP surface.
type Server struct {
	Hub     *Hub
	Outbox  Outbox
	Fanout  *RedisFanout
	Handler *Handler

	http   *http.Server
	redis  *redis.Client
	logger *slog.Logger
}

// NewServer wires the relay from configuration. DATABASE_URL selects the
// postgres outbox and REDIS_URL enables cross-instance fan-out; both fall
// back to in-process implementations when empty.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var outbox Outbox = NewMemoryOutbox()
	if cfg.DatabaseURL != "" {
		db, err := OpenPostgres(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		outbox = NewGormOutbox(db)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
	}

	s := newServer(cfg, outbox, rdb, logger)
	return s, nil
}

func newServer(cfg *config.Config, outbox Outbox, rdb *redis.Client, logger *slog.Logger) *Server {
	hub := NewHub(outbox, cfg.RelayRateLimit, cfg.RelayRateBurst, logger.With("component", "hub"))
	fanout := NewRedisFanout(rdb, hub, logger.With("component", "fanout"))
	handler := NewHandler(hub, outbox, fanout, cfg.JWTSecret, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	handler.RegisterRoutes(router, cfg.RelayRoute())

	return &Server{
		Hub:     hub,
		Outbox:  outbox,
		Fanout:  fanout,
		Handler: handler,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		redis:  rdb,
		logger: logger,
	}
}

// Router exposes the HTTP handler for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := s.Fanout.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("relay_listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown()
		return err
	}
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.logger.Info("relay_shutting_down")
	s.Hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("relay_shutdown_failed", "error", err.Error())
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
