package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vearutop/statigz"
	"github.com/vearutop/statigz/zstd"

	"github.com/sweater-ventures/optimist/api"
	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/middleware"
	"github.com/sweater-ventures/optimist/views"
)

//go:embed static/*
var static embed.FS

func main() {
	config.InitLogging()
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Unable to load configuration: ", err)
	}

	application, err := app.NewApp(appConfig)
	if err != nil {
		log.Fatal("Unable to initialize application: ", err)
	}
	defer application.Close()

	slog.Debug("Configuration",
		"DevMode", appConfig.DevMode,
		"LogLevel", appConfig.LogLevel,
		"BusDriver", appConfig.BusDriver,
		"MutationPolicy", appConfig.MutationPolicy,
		"Upstream", appConfig.UpstreamURL,
	)

	router := http.NewServeMux()
	if appConfig.DevMode {
		router.Handle("/static/", http.StripPrefix("/static", http.FileServer(http.Dir("static"))))
	} else {
		router.Handle("/static/", statigz.FileServer(static, zstd.AddEncoding))
	}
	views.AddViews(application, router)
	api.AddApis(application, router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", appConfig.Port),
		Handler: middleware.AllStandardMiddleware(router),
	}

	// Listen for shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting optimist", "port", appConfig.Port, "origin", application.Invalidations.Origin())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigChan
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// invalidation streams never finish on their own
	srv.RegisterOnShutdown(application.Invalidations.Close)
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// application.Close() runs via defer: the invalidator stops, then the
	// bus and the DB pool close.
	slog.Info("Shutdown complete")
}
