package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qms/internal/auth"
	"qms/internal/config"
	"qms/internal/counter"
	"qms/internal/database"
	"qms/internal/httpapi"
	"qms/internal/org"
	"qms/internal/outbox"
	"qms/internal/queue"
	"qms/internal/realtime"
	"qms/internal/scheduler"
	"qms/internal/sla"
	"qms/internal/stats"
	"qms/internal/store"
	"qms/internal/telemetry"
	"qms/internal/ticket"
)

const publishConsumer = "publish"

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, realtime feed and background jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: "qms",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	}, log)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	if serveMigrate && cfg.StoreDriver == config.DriverPostgres {
		if err := database.MigrateUp(ctx, cfg.DatabaseURL, log); err != nil {
			return err
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := buildServices(st, cfg, log)

	sinks := []outbox.Sink{telemetry.EventSink{}}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := outbox.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	relays := []*outbox.Relay{
		outbox.NewRelay(st, outbox.RelayConfig{
			Interval:  cfg.RealtimePollInterval,
			BatchSize: cfg.RealtimeBatchSize,
			Logger:    log.WithField("relay", "realtime"),
		}, svc.Realtime),
		outbox.NewRelay(st, outbox.RelayConfig{
			Consumer:  publishConsumer,
			Interval:  cfg.RealtimePollInterval,
			BatchSize: cfg.RealtimeBatchSize,
			Logger:    log.WithField("relay", publishConsumer),
		}, sinks...),
	}
	relayCtx, stopRelays := context.WithCancel(context.Background())
	defer stopRelays()
	for _, relay := range relays {
		go relay.Run(relayCtx)
	}

	jobs, err := scheduleJobs(ctx, st, svc, cfg, log)
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.RateLimitPerMinute,
		SessionBurst:     cfg.RateLimitBurst,
	})
	handler := httpapi.NewHandler(svc, log)
	root := telemetry.InstrumentHandler(httpapi.LoggingMiddleware(log)(limiter.Middleware(handler.Routes())))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(root, "qms"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("qms listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}

func buildServices(st store.Store, cfg config.Config, log logrus.FieldLogger) httpapi.Services {
	watcher := sla.New(st, cfg.SLADedupWindow, time.Now, log.WithField("component", "sla"))
	return httpapi.Services{
		Auth:     auth.New(st, cfg.SessionTTL, time.Now),
		Orgs:     org.New(st, time.Now),
		Queues:   queue.New(st, time.Now),
		Counters: counter.New(st, time.Now),
		Tickets: ticket.New(st, ticket.Config{
			Location: cfg.Location,
			Now:      time.Now,
			Watcher:  watcher,
			Logger:   log.WithField("component", "ticket"),
		}),
		Stats: stats.New(st, cfg.Location, time.Now),
		SLA:   watcher,
		Realtime: realtime.New(st, realtime.Config{
			RecentLimit: cfg.RecentCalledLimit,
			Now:         time.Now,
			Logger:      log.WithField("component", "realtime"),
			Subscribers: telemetry.RealtimeSubscriptions,
		}),
	}
}

func scheduleJobs(ctx context.Context, st store.Store, svc httpapi.Services, cfg config.Config, log logrus.FieldLogger) (*scheduler.Scheduler, error) {
	jobs := scheduler.New(ctx, cfg.Location, log.WithField("component", "scheduler"))

	if err := jobs.Every("sla_scan", cfg.SLAScanInterval, func(ctx context.Context) error {
		_, err := svc.SLA.Scan(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.NoShowGrace > 0 {
		if err := jobs.Every("auto_no_show", cfg.NoShowInterval, func(ctx context.Context) error {
			count, err := svc.Tickets.AutoNoShow(ctx, cfg.NoShowGrace, cfg.NoShowBatchSize)
			if count > 0 {
				log.WithField("count", count).Info("auto no-show processed tickets")
			}
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := jobs.Cron("daily_counter_reset", "0 0 * * *", func(ctx context.Context) error {
		count, err := svc.Counters.ResetDailyCounters(ctx)
		if err == nil {
			log.WithField("counters", count).Info("daily counters reset")
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := jobs.Cron("outbox_cleanup", "@hourly", func(ctx context.Context) error {
		removed, err := outbox.Cleanup(ctx, st, cfg.OutboxRetention, time.Now(), publishConsumer)
		if removed > 0 {
			log.WithField("removed", removed).Debug("outbox cleaned")
		}
		return err
	}); err != nil {
		return nil, err
	}
	return jobs, nil
}
