package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Serryudy/EAD-sub001/libs/auth"
	"github.com/Serryudy/EAD-sub001/libs/config"
	"github.com/Serryudy/EAD-sub001/libs/db"
	"github.com/Serryudy/EAD-sub001/libs/httpx"
	"github.com/Serryudy/EAD-sub001/libs/kafkax"
	otelx "github.com/Serryudy/EAD-sub001/libs/otel"
	"github.com/Serryudy/EAD-sub001/libs/runtime"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/assignment"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/capacity"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/directory"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/execution"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/grpcserver"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/handlers"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/jobs"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/lifecycle"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/email"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/push"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/sms"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage/memory"
)

type backend interface {
	storage.AppointmentStore
	storage.RecordStore
	storage.NotificationStore
}

type people interface {
	directory.Users
	directory.Technicians
	directory.Vehicles
}

type liveChannel interface {
	push.Pusher
	push.Subscriber
}

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "appointment-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)
	defer func() { _ = logger.Sync() }()

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	calCfg, err := calendarConfig()
	if err != nil {
		logger.Fatal("invalid calendar config", zap.Error(err))
	}
	cal, err := availability.New(calCfg)
	if err != nil {
		logger.Fatal("invalid calendar config", zap.Error(err))
	}
	lcCfg, err := lifecycleConfig()
	if err != nil {
		logger.Fatal("invalid lifecycle config", zap.Error(err))
	}

	var checks []runtime.ReadyCheck

	// Storage: Postgres with a transactional outbox, or memory for local runs.
	var store backend
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns:    int32(config.Int("DB_MAX_CONNS", 10)),
			LockTimeout: config.Duration("DB_LOCK_TIMEOUT", 5*time.Second),
		})
		if err != nil {
			logger.Fatal("db connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migration failed", zap.Error(err))
		}
		if v, err := db.MigrationVersion(ctx, pool); err == nil {
			logger.Info("schema ready", zap.Int64("version", v))
		}
		outboxRepo := outbox.NewRepository()
		store = storage.NewPostgres(pool, outboxRepo)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)
		if brokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		store = memory.New()
	}

	// Redis carries live updates and rate limits across replicas.
	var (
		live         liveChannel
		ipLimiter    httpx.Limiter
		bookLimiter  httpx.Limiter
		ipPerMinute  = config.Int("RATE_LIMIT_PER_MINUTE", 300)
		bookPerMinute = config.Int("BOOKING_RATE_LIMIT_PER_MINUTE", 10)
	)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		live = push.NewRedisPusher(rdb)
		ipLimiter = httpx.NewRedisRateLimiter(rdb, ipPerMinute, time.Minute)
		bookLimiter = httpx.NewRedisRateLimiter(rdb, bookPerMinute, time.Minute)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		live = push.NewLocalHub()
		local := httpx.NewLocalRateLimiter(ipPerMinute, time.Minute)
		go local.RunSweeper(ctx, 5*time.Minute)
		ipLimiter = local
		localBook := httpx.NewLocalRateLimiter(bookPerMinute, time.Minute)
		go localBook.RunSweeper(ctx, 5*time.Minute)
		bookLimiter = localBook
	}

	var dir people
	switch {
	case config.String("DIRECTORY_URL", "") != "":
		dir = directory.NewHTTPClient(config.String("DIRECTORY_URL", ""), config.String("DIRECTORY_TOKEN", ""))
	case config.String("DIRECTORY_FILE", "") != "":
		static, err := directory.LoadStatic(config.String("DIRECTORY_FILE", ""))
		if err != nil {
			logger.Fatal("directory seed failed", zap.Error(err))
		}
		dir = static
	default:
		logger.Warn("no directory configured; recipients and technicians will be unknown")
		dir = directory.NewStatic()
	}

	var mailer email.Sender = email.NewNoopSender()
	if host := config.String("SMTP_HOST", ""); host != "" {
		mailer = email.NewSMTPSender(host, config.String("SMTP_PORT", "25"), config.String("SMTP_FROM", "no-reply@servicebay.local"))
	}
	var texter sms.Sender = sms.NewNoopSender()
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		texter = sms.NewGatewaySender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}

	dispatcher := notify.NewDispatcher(notify.Deps{
		Users:    dir,
		Vehicles: dir,
		Store:    store,
		Pusher:   live,
		Email:    mailer,
		SMS:      texter,
		Logger:   logger,
	}, notifyConfig())
	notifier := notify.NewAsync(dispatcher)

	engine := assignment.NewEngine(store, dir, notifier, assignmentConfig(), logger, nil)
	timer := execution.NewTimer(store, store, notifier, logger, nil)
	manager := lifecycle.NewManager(lifecycle.Deps{
		Store:    store,
		Calendar: cal,
		Assigner: engine,
		Records:  timer,
		Users:    dir,
		Notifier: notifier,
		Logger:   logger,
	}, lcCfg)
	timer.SetCompleter(manager)

	worker := jobs.NewWorker(engine, store, logger, nil, jobs.WorkerConfig{
		Interval: config.Duration("JOBS_INTERVAL", time.Minute),
		Today:    cal.Today,
	})
	go worker.Run(ctx)

	var authn httpx.Middleware
	secret := config.String("JWT_SECRET", "")
	jwksURL := config.String("JWKS_URL", "")
	if secret != "" || jwksURL != "" {
		var jwks *auth.JWKSClient
		if jwksURL != "" {
			jwks = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 10*time.Minute))
		}
		authn = httpx.RequireAuth(auth.NewVerifier(secret, jwks))
	} else {
		logger.Warn("no JWT verification configured; trusting gateway identity headers")
		authn = httpx.TrustHeaders()
	}

	api := handlers.New(handlers.Deps{
		Manager:   manager,
		Validator: capacity.NewValidator(cal, store, nil),
		Engine:    engine,
		Timer:     timer,
		Inbox:     notify.NewInbox(store, live, nil),
		Live:      live,
		Logger:    logger,
	})
	mux := runtime.NewBaseMuxWithReady(checks...)
	api.Register(mux, handlers.Options{
		Auth: authn,
		BookingLimit: httpx.RateLimit(bookLimiter, "booking", func(r *http.Request) string {
			if r.Method != http.MethodPost {
				return ""
			}
			return httpx.PrincipalKey(r)
		}, logger, true),
		RequestTimeout: config.Duration("REQUEST_TIMEOUT", 15*time.Second),
		Heartbeat:      config.Duration("SSE_HEARTBEAT", 25*time.Second),
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(ipLimiter, "ip", httpx.ClientIP, logger, true),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointments")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if config.Bool("GRPC_ENABLED", true) {
		grpcPort, err := config.Port("GRPC_PORT", "9090")
		if err != nil {
			logger.Fatal("invalid grpc port", zap.Error(err))
		}
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.Fatal("grpc listen failed", zap.Error(err))
		}
		health := grpcserver.New(logger, config.Duration("GRPC_HEALTH_INTERVAL", 10*time.Second), checks...)
		go func() {
			if err := health.Serve(ctx, lis); err != nil {
				logger.Error("grpc server error", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	notifier.Wait()
	logger.Info("http server stopped")
}
