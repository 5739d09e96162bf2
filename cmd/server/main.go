package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/database"
	"github.com/doofx0071/doofs-dns/internal/handlers"
	"github.com/doofx0071/doofs-dns/internal/provider"
	"github.com/doofx0071/doofs-dns/internal/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	cf := provider.NewCloudflare(cfg.CloudflareBaseURL, cfg.CloudflareAPIToken, cfg.CloudflareAccountID)

	queue := services.NewJobQueue(db, cfg)
	claims := services.NewClaimService(db, cfg, queue, services.LogNotifier{})
	records := services.NewRecordService(db, cfg, queue)
	platform := services.NewPlatformService(db, cf)
	reconciler := services.NewReconciler(db, cfg, queue, cf)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api := e.Group("/api/v1")
	handlers.RegisterRoutes(api, claims, records, queue, platform)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.Run(ctx)
	})

	g.Go(func() error {
		log.Infof("doofs-dns listening on %s", cfg.ListenAddress)
		if err := e.Start(cfg.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
	log.Info("shutdown complete")
}
