// Package server exposes the research pipeline over HTTP for browser
// clients: a CORS-restricted JSON API plus health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vibecoder/research-engine/config"
	"github.com/vibecoder/research-engine/internal/agent"
	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
)

// Run builds all dependencies from configuration and serves HTTP until the
// listener fails.
func Run(addr string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	provider, err := agent.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	sessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}

	tele := telemetry.New(cfg.Telemetry)
	pipeLogger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	pipeline := agent.NewPipeline(cfg, provider, tele, pipeLogger)

	e := newEcho(cfg)

	h := &ResearchHandler{
		Pipeline:  pipeline,
		Sessions:  sessions,
		Telemetry: tele,
		Logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	h.Register(e.Group("/api"))

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho configures the echo instance: recovery, a unified JSON error
// handler, and CORS locked down to the configured origin allow-list. Allowed
// origins may use any method and any header; every other origin is rejected.
func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	// AllowHeaders stays empty: echo then mirrors the preflight's requested
	// headers, so allow-listed origins may send any header.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.SessionBackend {
	case "redis":
		return session.NewRedisStore(ctx,
			cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			cfg.Storage.Redis.Timeout, cfg.Storage.SessionTTL)
	default:
		return session.NewInMemoryStore(cfg.Storage.SessionTTL), nil
	}
}
