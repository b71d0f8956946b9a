package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deliveryengine/internal/app"
	"deliveryengine/internal/dispatcher"
	"deliveryengine/internal/janitor"
	"deliveryengine/internal/metrics"
	"deliveryengine/internal/models"
	"deliveryengine/internal/provider"
	"deliveryengine/internal/provider/emailadapter"
	"deliveryengine/internal/supervisor"
	"deliveryengine/internal/usage"
)

func main() {
	ctx := context.Background()

	a, err := app.Bootstrap(ctx)
	if err != nil {
		panic(err)
	}
	defer a.Close()

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

	emailer := emailadapter.New(a.Config.SMTPHost, a.Config.SMTPPort, a.Config.SMTPUser, a.Config.SMTPPassword, a.Config.SMTPFrom)
	broker := provider.New(map[models.ChannelType]provider.Adapter{
		models.ChannelEmail: emailer,
	}, a.Config.ProviderRateLimitPerSecond)

	ledger := usage.New(a.Store)
	disp := dispatcher.New(a.Store, broker, ledger, a.Logger, a.Config.WorkerBatchSize, a.Config.PollInterval())
	jan := janitor.New(a.Store, a.Logger)

	sup := supervisor.New(a.Logger, disp.Counters)
	sup.ValidateConfig(a.Config.Validate())

	runCtx, cancel := sup.Context()
	defer cancel()

	dispatcherDone := make(chan struct{})
	go func() {
		disp.Run(runCtx)
		close(dispatcherDone)
	}()

	go jan.Run(runCtx)
	go sup.RunHeartbeat(runCtx)

	<-runCtx.Done()
	a.Logger.Info("worker draining in-flight batch")
	supervisor.DrainWorker(dispatcherDone, 5*time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("metrics shutdown failed", zap.Error(err))
	}

	a.Logger.Info("worker shutdown complete")
}
