package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	apihttp "nexusgrid/internal/api/http"
	"nexusgrid/internal/audit"
	"nexusgrid/internal/auth"
	billingapp "nexusgrid/internal/billing/application"
	devicesapp "nexusgrid/internal/devices/application"
	devicespostgres "nexusgrid/internal/devices/infrastructure/postgres"
	"nexusgrid/internal/faults/dispatch"
	faultspostgres "nexusgrid/internal/faults/infrastructure/postgres"
	"nexusgrid/internal/faults/notify"
	"nexusgrid/internal/ingestion"
	"nexusgrid/internal/observability/metrics"
	"nexusgrid/internal/stream"
	telemetrypostgres "nexusgrid/internal/telemetry/infrastructure/postgres"
	redisstore "nexusgrid/internal/telemetry/infrastructure/redis"
	"nexusgrid/internal/telemetry/interfaces/httpingest"
	"nexusgrid/internal/telemetry/interfaces/mqttingest"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	auditRepo := audit.NewRepository(db)
	readingRepo := telemetrypostgres.NewReadingRepository(db)
	faultLog := faultspostgres.NewFaultLogRepository(db)
	configRepo := devicespostgres.NewConfigRepository(db)
	configs := devicesapp.NewCachedProvider(configRepo, devicesapp.WithTTL(cfg.ConfigCacheTTL))

	var latest *redisstore.LatestStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("redis ping error: %v", err)
		}
		defer redisClient.Close()
		latest, err = redisstore.NewLatestStore(redisClient, cfg.LatestTTL)
		if err != nil {
			logger.Fatalf("latest store error: %v", err)
		}
	}

	alertCfg, err := notify.LoadConfig()
	if err != nil {
		logger.Fatalf("alert config error: %v", err)
	}
	var notifier dispatch.Notifier
	if alertCfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(alertCfg.WebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		notifier = webhook
	}
	dispatchOpts := []dispatch.Option{}
	if alertCfg.Cooldown > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithCooldownWindow(alertCfg.Cooldown))
	}
	if alertCfg.SendTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithSendTimeout(alertCfg.SendTimeout))
	}
	if alertCfg.Template != "" {
		template, err := notify.NewTemplate(alertCfg.Template)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithTemplate(template))
	}
	dispatcher, err := dispatch.NewDispatcher(faultLog, notifier, logger, dispatchOpts...)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	billingService, err := billingapp.NewService(readingRepo, logger)
	if err != nil {
		logger.Fatalf("billing service error: %v", err)
	}

	hub, err := stream.NewHub(logger)
	if err != nil {
		logger.Fatalf("stream hub error: %v", err)
	}

	coordinatorOpts := []ingestion.Option{ingestion.WithBroadcaster(hub)}
	if latest != nil {
		coordinatorOpts = append(coordinatorOpts, ingestion.WithLatestCache(latest))
	}
	coordinator, err := ingestion.NewCoordinator(readingRepo, configs, billingService, dispatcher, logger, coordinatorOpts...)
	if err != nil {
		logger.Fatalf("coordinator error: %v", err)
	}

	ingestHandler, err := httpingest.NewHandler(coordinator, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	var mqttSource *mqttingest.Source
	if cfg.MQTTBroker != "" {
		mqttSource, err = mqttingest.NewSource(mqttingest.Config{
			Broker:   cfg.MQTTBroker,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		}, coordinator, logger)
		if err != nil {
			logger.Fatalf("mqtt source error: %v", err)
		}
		defer mqttSource.Close()
		if err := mqttSource.Subscribe(context.Background()); err != nil {
			logger.Fatalf("mqtt subscribe error: %v", err)
		}
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)
	tenantGuard := apihttp.NewTenantGuard(auth.NewDeviceChecker(configs))

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/billing/snapshot", tenantGuard.Wrap(apihttp.NewBillingSnapshotHandler(billingService)))
	mux.Handle("/api/v1/billing/recompute", tenantGuard.Wrap(apihttp.NewBillingRecomputeHandler(billingService, configs, auditRepo)))
	mux.Handle("/api/v1/faults", tenantGuard.Wrap(apihttp.NewFaultsHandler(faultLog)))
	if latest != nil {
		mux.Handle("/api/v1/telemetry/latest", tenantGuard.Wrap(apihttp.NewLatestTelemetryHandler(latest)))
	}
	mux.Handle("/api/v1/telemetry/readings", tenantGuard.Wrap(apihttp.NewReadingsHandler(readingRepo)))
	mux.Handle("/api/v1/stream", hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Printf("shutdown: draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		coordinator.Drain()
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	RedisAddr         string
	RedisPassword     string
	LatestTTL         time.Duration
	ConfigCacheTTL    time.Duration
	MQTTBroker        string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopic         string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		RedisAddr:         getenvDefault("REDIS_ADDR", ""),
		RedisPassword:     getenvDefault("REDIS_PASSWORD", ""),
		LatestTTL:         getenvDuration("LATEST_READING_TTL", 10*time.Minute),
		ConfigCacheTTL:    getenvDuration("CONFIG_CACHE_TTL", 30*time.Second),
		MQTTBroker:        getenvDefault("MQTT_BROKER", ""),
		MQTTUsername:      getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:      getenvDefault("MQTT_PASSWORD", ""),
		MQTTTopic:         getenvDefault("MQTT_TOPIC", ""),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
