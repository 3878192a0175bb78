package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vetchart/internal/bootstrap"
	"vetchart/internal/domain"
)

func main() {
	hub := NewHub(nil)

	svc, err := bootstrap.Build(hub)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("startup failed", zap.Error(err))
	}
	defer func() { _ = svc.Logger.Sync() }()
	hub.SetLogger(svc.Logger.Named("events"))

	app := NewApp(svc, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		svc.Logger.Info("server starting", zap.String("addr", svc.Config.ServerAddr))
		if err := app.Start(svc.Config.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hub.ActionErrors(domain.ErrorCodeStartup, []string{err.Error()})
			svc.Logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	svc.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		svc.Logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
