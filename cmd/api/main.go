package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/medication-api/internal/app"
	"github.com/jwalitptl/medication-api/internal/config"
	"github.com/jwalitptl/medication-api/internal/handler"
	adherenceHandler "github.com/jwalitptl/medication-api/internal/handler/adherence"
	doseHandler "github.com/jwalitptl/medication-api/internal/handler/dose"
	medicationHandler "github.com/jwalitptl/medication-api/internal/handler/medication"
	"github.com/jwalitptl/medication-api/internal/middleware"
	"github.com/jwalitptl/medication-api/internal/router"
	adherenceService "github.com/jwalitptl/medication-api/internal/service/adherence"
	doseService "github.com/jwalitptl/medication-api/internal/service/dose"
	medicationService "github.com/jwalitptl/medication-api/internal/service/medication"
	"github.com/jwalitptl/medication-api/pkg/auth"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}

	lg := app.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal(err, "failed to initialize")
	}
	defer a.Close()

	// Initialize services
	doseSvc := doseService.NewService(a.Store, a.Dispatcher, lg, a.Metrics)
	adherenceSvc := adherenceService.NewService(a.Store.DoseLogs())
	medicationSvc := medicationService.NewService(a.Store, lg, medicationService.WithLocation(a.Location))
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, 0)

	// Setup router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwtSvc),
		handler.NewHandler(a.Store, a.Registry),
		doseHandler.NewHandler(doseSvc, a.Location),
		adherenceHandler.NewHandler(adherenceSvc, a.Location),
		medicationHandler.NewHandler(medicationSvc),
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout,
			Metrics:          a.Metrics,
		},
	)
	r.Setup()

	// Events recorded by confirmations are relayed from the outbox here.
	a.StartOutbox(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("server listening", "addr", srv.Addr, "driver", cfg.Database.Driver, "timezone", a.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error(err, "failed to start server")
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error(err, "server forced to shutdown")
		os.Exit(1)
	}

	lg.Info("server exited properly")
}
