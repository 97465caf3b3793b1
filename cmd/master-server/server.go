package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/config"
	"github.com/medterm/masterdata/internal/domain/master"
	"github.com/medterm/masterdata/internal/platform/auth"
	"github.com/medterm/masterdata/internal/platform/db"
	"github.com/medterm/masterdata/internal/platform/middleware"
)

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := newEngine(ctx, cfg, logger, true)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start engine")
		return err
	}

	e := newEcho(cfg, logger, eng)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	eng.Close(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the HTTP surface over a wired engine.
func newEcho(cfg *config.Config, logger zerolog.Logger, eng *engine) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.OrgHeader},
	}))

	jwtCfg := auth.JWTConfig{
		Secret:  cfg.AuthSecret,
		Issuer:  cfg.AuthIssuer,
		Keys:    auth.NewKeyCache(cfg.AuthKeyCacheSize),
		Skipper: auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(unlessPublic(db.OrganizationMiddleware()))

	e.GET("/healthz", db.HealthHandler(eng.pool, eng.kv))
	if cfg.MetricsEnabled && eng.metrics != nil {
		e.GET("/metrics", eng.metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	master.NewHandler(eng.service).RegisterRoutes(apiV1)
	return e
}

// unlessPublic skips mw on the infrastructure endpoints.
func unlessPublic(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		wrapped := mw(next)
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}
			return wrapped(c)
		}
	}
}
