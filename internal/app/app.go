package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the analytics
// scheduler, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	meter := m.MeterProvider().Meter("storefront")

	pricing, err := cfg.Checkout.Pricing()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Optional Redis: cart cache, shared rate limiter, analytics lock.
	var (
		rdb       *goredis.Client
		cartCache cart.Cache
		locker    analytics.Locker
		limiter   httpmiddleware.Limiter
	)
	if cfg.Redis.URL != "" {
		rdb, err = redis.Client(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		cartCache = redis.NewCartCache(rdb, cfg.Redis.CartTTL)
		locker = redis.NewLocker(rdb)
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	} else {
		lg.Warn("Redis not configured, using in-process cart state and rate limiting")
		memLimiter := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go memLimiter.RunSweeper(ctx)
		limiter = memLimiter
	}

	// Notifications: RabbitMQ when configured, the log otherwise.
	var sink notify.Sink = notify.LogSink{Logger: lg.Named("notify")}
	if cfg.Notify.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.Notify.AMQPURL)
		if err != nil {
			return errors.Wrap(err, "connect amqp")
		}
		defer func() { _ = conn.Close() }()

		amqpSink, ch, err := notify.NewAMQPSink(conn, cfg.Notify.Queue)
		if err != nil {
			return errors.Wrap(err, "create amqp sink")
		}
		defer func() { _ = ch.Close() }()

		sink = amqpSink
		healthSvc.AddReadinessCheck("amqp", time.Second, health.OpenCheck(conn))
	}
	dispatcher, err := notify.NewDispatcher(sink, lg.Named("notify"), meter, notify.Config{
		Buffer:      cfg.Notify.Buffer,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.SendTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "create notification dispatcher")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	snapshotRepo := postgres.NewSnapshotRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	carts := cart.NewStore(cartRepo, productRepo, userRepo, cartCache)
	coupons := coupon.NewEngine(couponRepo)
	checkoutService, err := checkout.NewService(
		postgres.NewCheckoutStore(pool), carts, userRepo, coupons, dispatcher, pricing, meter,
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	orderService, err := order.NewService(orderRepo, dispatcher, cfg.Checkout.DefaultCarrier, meter)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	aggregator, err := analytics.NewAggregator(orderRepo, userRepo, productRepo, snapshotRepo, meter)
	if err != nil {
		return errors.Wrap(err, "create analytics aggregator")
	}
	scheduler, err := analytics.NewScheduler(aggregator, snapshotRepo, locker, lg.Named("analytics"), analytics.SchedulerConfig{
		Schedule: cfg.Analytics.Schedule,
		CatchUp:  cfg.Analytics.CatchUp,
		LockTTL:  cfg.Analytics.LockTTL,
		Timeout:  cfg.Analytics.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create analytics scheduler")
	}

	// HTTP.
	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo, carts, checkoutService, orderService, coupons, aggregator,
	)
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper), auth.ScopeAdmin)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: NewHTTPHandler(HTTPDeps{
			Handler:        h,
			Security:       security,
			Health:         healthSvc,
			Limiter:        limiter,
			RateLimit:      cfg.RateLimit,
			Logger:         zctx.From(ctx),
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		}),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)
	scheduler.Start(ctx)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			lg.Error("Scheduler shutdown error", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			lg.Error("Notification drain error", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// HTTPDeps are the collaborators of the HTTP surface.
type HTTPDeps struct {
	Handler        *handler.Handler
	Security       *handler.Security
	Health         *health.Health
	Limiter        httpmiddleware.Limiter
	RateLimit      RateLimitConfig
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewHTTPHandler mounts the probes and the API routes behind the middleware
// chain.
func NewHTTPHandler(d HTTPDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", d.Health.LiveEndpoint)
	mux.HandleFunc("/readyz", d.Health.ReadyEndpoint)
	mux.Handle("/", d.Handler.Routes(d.Security.Middleware))

	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(d.Logger),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("storefront-api", d.TracerProvider, d.MeterProvider),
		httpmiddleware.LogRequests(),
		httpmiddleware.RateLimit(d.Limiter, httpmiddleware.RateLimitConfig{
			Max:    d.RateLimit.Max,
			Window: d.RateLimit.Window,
		}),
	)
}
