package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deliveryengine/internal/admin"
	"deliveryengine/internal/app"
	"deliveryengine/internal/enqueue"
	"deliveryengine/internal/httpapi"
	"deliveryengine/internal/idempotency"
	"deliveryengine/internal/metrics"
	"deliveryengine/internal/quota"
	"deliveryengine/internal/ratelimit"
	"deliveryengine/internal/supervisor"
)

func main() {
	ctx := context.Background()

	a, err := app.Bootstrap(ctx)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	sup := supervisor.New(a.Logger, nil)
	sup.ValidateConfig(a.Config.Validate())

	runCtx, cancel := sup.Context()
	defer cancel()

	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + a.Config.MetricsPort, Handler: metricsMux}

	go func() {
		a.Logger.Info("metrics server started", zap.String("port", a.Config.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("metrics server error", zap.Error(err))
		}
	}()

	quotaCtrl := quota.New(a.Store)
	rateLimiter := ratelimit.New(a.Store)
	idemGuard := idempotency.New(a.Store)
	enqueuer := enqueue.New(a.Store, quotaCtrl, rateLimiter, idemGuard)

	api := httpapi.New(a.Store, enqueuer, a.Logger)
	router := api.Router()

	adminHandler := admin.New(a.Store, a.Config.AdminAPIKeyRead, a.Config.AdminAPIKeyWrite)
	adminHandler.Mount(router)

	apiServer := &http.Server{Addr: ":" + a.Config.APIPort, Handler: router}

	go func() {
		a.Logger.Info("api server started", zap.String("port", a.Config.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("api server error", zap.Error(err))
		}
	}()

	go sup.RunHeartbeat(runCtx)

	<-runCtx.Done()
	a.Logger.Info("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("api shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("metrics shutdown failed", zap.Error(err))
	}

	api.Drain()

	a.Logger.Info("api shutdown complete")
}
