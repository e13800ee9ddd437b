package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/api"
	"predixaai-anomaly/internal/bus"
	"predixaai-anomaly/internal/config"
	"predixaai-anomaly/internal/configs"
	"predixaai-anomaly/internal/dedup"
	"predixaai-anomaly/internal/investigation"
	"predixaai-anomaly/internal/leader"
	"predixaai-anomaly/internal/metrics"
	"predixaai-anomaly/internal/metricstore"
	"predixaai-anomaly/internal/notify"
	"predixaai-anomaly/internal/scheduler"
	"predixaai-anomaly/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		configStore configs.Store     = configs.NewMemoryStore()
		alertRepo   alerts.Repository = alerts.NewMemoryRepository()
	)
	if cfg.DatabaseURL != "" {
		store, err := storage.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to db", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
		configStore = storage.NewConfigRepository(store)
		alertRepo = storage.NewAlertRepository(store)
	} else {
		logger.Warn("DATABASE_URL not set, alerts and configs are kept in memory")
	}

	var decrypter metricstore.Decrypter
	if cfg.EncryptionKey != "" {
		opener, err := config.NewSecretOpener(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to init encryptor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		decrypter = opener
	}
	samples, closer, err := openMetricStore(cfg, decrypter, logger)
	if err != nil {
		logger.Error("failed to open metric store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	var (
		events      *bus.Publisher
		subscriber  *bus.Subscriber
		cfgEvents   configs.Publisher
		alertEvents alerts.EventPublisher
		channelBus  notify.Publisher
	)
	if cfg.NATSURL != "" {
		conn, err := bus.Connect(cfg.NATSURL, "anomaly-engine-"+cfg.InstanceID)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		events = bus.NewPublisher(conn)
		defer events.Close()
		subscriber = bus.NewSubscriber(conn)
		cfgEvents, alertEvents, channelBus = events, events, events
	}

	var (
		cache   dedup.Cache    = dedup.NewMemoryCache()
		elector leader.Elector = leader.Local{}
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()
		cache = dedup.NewRedisCache(client)
		elector = leader.NewRedisElector(client, leader.DefaultKey, cfg.InstanceID, 3*cfg.TickInterval)
	}

	hub := notify.NewHub(logger)
	defer hub.Close()
	channels, err := buildChannels(cfg, notify.Deps{Publisher: channelBus, Hub: hub, Timeout: cfg.ChannelTimeout})
	if err != nil {
		logger.Error("failed to configure channels", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dispatcher := alerts.NewDispatcher(channels, alertRepo, alerts.DispatcherConfig{
		QueueSize:    cfg.DispatchQueueSize,
		Workers:      cfg.DispatchWorkers,
		DeepLinkBase: cfg.DeepLinkBaseURL,
	}, logger, m)
	dispatcher.Start()

	managerOpts := []alerts.Option{alerts.WithMetrics(m)}
	if alertEvents != nil {
		managerOpts = append(managerOpts, alerts.WithEvents(alertEvents))
	}
	manager := alerts.NewManager(alertRepo, dispatcher, logger, managerOpts...)
	cfgService := configs.NewService(configStore, cfgEvents, logger)
	investigator := investigation.NewService(manager, cfgService, samples, logger, investigation.Options{
		Retention:    cfg.Retention,
		SimilarLimit: cfg.SimilarAlertLimit,
	})

	sched := scheduler.New(scheduler.Deps{
		Configs: cfgService,
		Samples: samples,
		Dedup:   cache,
		Alerts:  manager,
		Elector: elector,
		Logger:  logger,
		Metrics: m,
	}, scheduler.Options{
		Interval:     cfg.TickInterval,
		StopTimeout:  cfg.StopTimeout,
		QueryTimeout: cfg.MetricQueryTimeout,
		Retention:    cfg.Retention,
		Workers:      cfg.WorkerCount,
		MinSamples:   cfg.MinSamples,
	})
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if subscriber != nil {
		if _, err := subscriber.SubscribeConfig(func(evt bus.ConfigEvent) {
			logger.Info("config change received", slog.String("metric", evt.MetricName))
			sched.Trigger()
		}); err != nil {
			logger.Error("failed to subscribe to config events", slog.String("error", err.Error()))
		}
	}

	handler := &api.Handler{
		Alerts:       manager,
		Investigator: investigator,
		Configs:      cfgService,
		Scheduler:    sched,
		Stream:       hub,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Limits:       cfg.Limits,
		Timeout:      10 * time.Second,
		Logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AdminPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		logger.Info("anomaly engine listening", slog.String("port", cfg.AdminPort), slog.String("instance", cfg.InstanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop", slog.String("error", err.Error()))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop", slog.String("error", err.Error()))
	}
}
