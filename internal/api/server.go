// Package api exposes the signal store, scan controls and alert stream over
// HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"smc-structure-engine/config"
	"smc-structure-engine/internal/alerts"
	"smc-structure-engine/internal/market"
	"smc-structure-engine/internal/scanner"
	"smc-structure-engine/internal/store"
)

// Server wires the HTTP surface around the running engine.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	signals    *store.SignalStore
	scanner    *scanner.Scanner
	bus        *alerts.Bus
	provider   market.Provider
	mirror     *store.RedisMirror // nil when the mirror is disabled
	cfg        config.ServerConfig
	logger     zerolog.Logger
}

// NewServer builds the router. mirror may be nil.
func NewServer(signals *store.SignalStore, sc *scanner.Scanner, bus *alerts.Bus, provider market.Provider, mirror *store.RedisMirror, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		signals:  signals,
		scanner:  sc,
		bus:      bus,
		provider: provider,
		mirror:   mirror,
		cfg:      cfg,
		logger:   logger,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     splitOrigins(cfg.AllowedOrigins),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)

	s.router.GET("/signals", s.handleListSignals)
	s.router.GET("/signals/search", s.handleSearchSignals)
	s.router.GET("/signals/:symbol", s.handleGetSignal)
	s.router.POST("/signals/:symbol/favorite", s.handleSetFavorite)

	s.router.GET("/stats", s.handleStats)
	s.router.POST("/rescan", s.handleRescan)

	s.router.GET("/alerts", s.handleListAlerts)
	s.router.POST("/alerts/:id/read", s.handleMarkAlertRead)
	s.router.GET("/alerts/stream", s.handleAlertStream)
}

// Start runs the listener until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func splitOrigins(origins string) []string {
	if origins == "" || origins == "*" {
		return []string{"*"}
	}
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
