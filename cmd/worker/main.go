// Command worker runs campaignctl's three background loops: the Email Queue
// & Sender Worker, the Campaign Decision Engine, and the Reply & Bounce
// Detector. Config/logger/DB wiring follows the teacher's cmd/api/main.go
// bootstrap order; the start/signal/stop shape is grounded on
// _examples/DrisanJames-project-jarvis's cmd/worker/main.go (the one example
// repo that runs background workers instead of an HTTP server).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lollxz/campaignctl/config"
	"github.com/lollxz/campaignctl/internal/repository"
	"github.com/lollxz/campaignctl/internal/service"
	"github.com/lollxz/campaignctl/pkg/database"
	"github.com/lollxz/campaignctl/pkg/logger"
	"github.com/lollxz/campaignctl/pkg/mailtransport"
	"github.com/lollxz/campaignctl/pkg/metrics"
	"github.com/lollxz/campaignctl/pkg/ratelimiter"
)

// graphRateLimitPerMinute bounds outbound Graph send calls per sender
// mailbox; Microsoft's throttling guidance is well under this, so this is a
// conservative client-side backstop rather than the real limit.
const graphRateLimitPerMinute = 30

func main() {
	log := logger.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("loading config")
		os.Exit(1)
	}
	log = log.WithField("environment", cfg.Environment).WithField("version", cfg.Version)

	db, err := database.Open(&cfg.Database, cfg.Tracing.Enabled)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("opening database")
		os.Exit(1)
	}
	defer db.Close()

	stopMetrics, err := metrics.StartExporter(cfg.Tracing.ServiceName, metricsPort(cfg))
	if err != nil {
		log.WithField("error", err.Error()).Fatal("starting metrics exporter")
		os.Exit(1)
	}
	defer stopMetrics()

	contactRepo := repository.NewContactRepository(db)
	eventRepo := repository.NewCampaignEventRepository(db)
	queueRepo := repository.NewQueueRowRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	senderStatsRepo := repository.NewSenderStatsRepository(db)
	bouncedRepo := repository.NewBouncedEmailRepository(db)
	customFlowRepo := repository.NewCustomFlowRepository(db)
	overridesRepo := repository.NewCustomContactMessageRepository(db)

	senderCreds := make(map[string]mailtransport.SenderCredentials, len(cfg.Senders.Credentials))
	for _, c := range cfg.Senders.Credentials {
		senderCreds[c.Email] = mailtransport.SenderCredentials{
			TenantID:     c.TenantID,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
		}
	}

	limiter := ratelimiter.NewRateLimiter()
	limiter.SetPolicy("graph", graphRateLimitPerMinute, time.Minute)
	transport := mailtransport.NewGraphTransport(senderCreds, limiter, log)

	templateSource := service.StaticTemplateSource{}
	resolver := service.NewTemplateResolver(templateSource, overridesRepo)

	queueWorker := service.NewQueueWorker(
		db, log, queueRepo, contactRepo, messageRepo, senderStatsRepo, bouncedRepo,
		transport, cfg.Worker.QueuePollInterval, cfg.Worker.QueueFetchBatchSize,
	)
	decisionEngine := service.NewDecisionEngine(
		db, log, contactRepo, eventRepo, customFlowRepo, queueRepo, messageRepo,
		resolver, cfg.Worker.DecisionLoopInterval,
	)
	replyDetector := service.NewReplyDetector(
		db, log, contactRepo, messageRepo, bouncedRepo, queueRepo,
		transport, cfg.Worker.DetectorLoopInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queueWorker.Start(ctx); err != nil {
		log.WithField("error", err.Error()).Fatal("starting queue worker")
		os.Exit(1)
	}
	if err := decisionEngine.Start(ctx); err != nil {
		log.WithField("error", err.Error()).Fatal("starting decision engine")
		os.Exit(1)
	}
	if err := replyDetector.Start(ctx); err != nil {
		log.WithField("error", err.Error()).Fatal("starting reply detector")
		os.Exit(1)
	}

	log.Info("campaignctl worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	queueWorker.Stop()
	decisionEngine.Stop()
	replyDetector.Stop()

	log.Info("worker stopped")
}

func metricsPort(cfg *config.Config) int {
	if !cfg.Tracing.Enabled {
		return 0
	}
	return cfg.Tracing.PrometheusPort
}
