// Package server exposes the research engine over HTTP: task CRUD, batches,
// SSE progress streaming, health and metrics.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/events"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/manager"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/telemetry"
)

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	mgr    *manager.Manager
	bus    *events.Bus
	tele   *telemetry.Telemetry
	logger *log.Logger
}

func New(cfg *config.Config, mgr *manager.Manager, bus *events.Bus, tele *telemetry.Telemetry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{echo: e, cfg: cfg, mgr: mgr, bus: bus, tele: tele, logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(s.tele.Handler()))

	api := s.echo.Group("/api/v1")
	if s.cfg.Server.JWTSecret != "" {
		api.Use(AuthMiddleware(s.cfg.Server.JWTSecret))
	} else {
		s.logger.Printf("[API] no JWT secret configured, serving unauthenticated")
	}

	api.POST("/tasks", s.submitTask)
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/tasks/:id/cancel", s.cancelTask)
	api.GET("/tasks/:id/events", s.streamEvents)
	api.POST("/batches", s.submitBatch)
	api.GET("/batches/:id", s.getBatch)
	api.GET("/costs", s.getCosts)
}

func (s *Server) Start() error {
	s.logger.Printf("[API] listening on %s", s.cfg.Server.Address)
	err := s.echo.Start(s.cfg.Server.Address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorHandler maps domain errors onto HTTP statuses so handlers can return
// them untranslated.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := err.Error()

		var he *echo.HTTPError
		var ve *research.ValidationError
		switch {
		case errors.As(err, &he):
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		case errors.As(err, &ve):
			code = http.StatusBadRequest
		case errors.Is(err, research.ErrNotFound):
			code = http.StatusNotFound
		case errors.Is(err, research.ErrInvalidState):
			code = http.StatusConflict
		}
		if code >= http.StatusInternalServerError {
			logger.Printf("[API] %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		}
		if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
			logger.Printf("[API] write error response: %v", err)
		}
	}
}
