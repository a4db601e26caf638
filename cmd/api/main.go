package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/backend-store/internal/app"
	"github.com/oakmart/backend-store/internal/auth"
	"github.com/oakmart/backend-store/internal/cart"
	"github.com/oakmart/backend-store/internal/catalog"
	"github.com/oakmart/backend-store/internal/checkout"
	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/config"
	"github.com/oakmart/backend-store/internal/events"
	"github.com/oakmart/backend-store/internal/health"
	"github.com/oakmart/backend-store/internal/lock"
	"github.com/oakmart/backend-store/internal/membership"
	"github.com/oakmart/backend-store/internal/obs"
	"github.com/oakmart/backend-store/internal/order"
	"github.com/oakmart/backend-store/internal/promotion"
	"github.com/oakmart/backend-store/internal/queue"
	"github.com/oakmart/backend-store/internal/ratelimit"
	"github.com/oakmart/backend-store/internal/repo"
	"github.com/oakmart/backend-store/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "store")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "store-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps, err := app.New(bootCtx, cfg, logger, app.Options{
		AppName:      "store-api",
		InstrumentDB: tracingEnabled,
		RedisMetrics: metricsEnabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close(logger)

	if err := app.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	notifiers := []events.Notifier{
		events.LogNotifier{Logger: logger},
		events.MetricsNotifier{},
	}
	if cfg.EventWebhookURL != "" {
		notifiers = append(notifiers, events.NewWebhookNotifier(cfg.EventWebhookURL, logger))
	}
	bus := &events.Bus{
		Store:     repo.Events{DB: deps.DB},
		Notifiers: notifiers,
	}

	authService, err := auth.NewService(auth.Config{
		Store:          repo.Users{DB: deps.DB},
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{
		Service:          authService,
		AccessCookieName: "access_token",
		CookieSecure:     cfg.AppEnv == "production",
		CookieSameSite:   http.SameSiteLaxMode,
	}
	authMiddleware := auth.Middleware{Service: authService, AccessCookie: "access_token"}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store: repo.Products{DB: deps.DB},
		Cache: catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalogService)

	cartSvc := &cart.Service{
		Store:                 deps.Store,
		Locker:                lock.Locker{R: deps.Redis},
		LockTTL:               cfg.CartLockTTL,
		TaxBps:                cfg.TaxRateBps,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		ShippingStandardRate:  cfg.ShippingStandardRate,
		ShippingExpressRate:   cfg.ShippingExpressRate,
	}
	cartHandler := &cart.Handler{Svc: cartSvc}

	taskQueue := queue.Enqueuer{R: deps.Redis, Prefix: "store", DedupTTL: 24 * time.Hour}
	checkoutSvc := &checkout.Service{
		Store:  deps.Store,
		Cart:   cartSvc,
		Events: bus,
		Queue:  taskQueue,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	orders := repo.Orders{DB: deps.DB}
	orderHandler := &order.Handler{Orders: orders}
	orderAdmin := &order.AdminHandler{Orders: orders}

	promotionAdmin := &promotion.Handler{
		Promotions: repo.Promotions{DB: deps.DB},
		Validate:   deps.Validator,
	}
	membershipHandler := &membership.Handler{Memberships: repo.Memberships{DB: deps.DB}}
	queueAdmin := &queue.AdminHandler{
		Store:  queue.NewStore(deps.DB),
		Queue:  taskQueue,
		Logger: logger,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker: readinessChecker{db: deps.DB, redis: deps.Redis},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	rateLimit := limiterstdlib.NewMiddleware(deps.Limiter)

	// Promotion code lookups are a guessing target, so they get a tighter
	// per-user window on top of the global limiter.
	promoLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "store:ratelimit:promo:"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				if uid, ok := common.UserID(r.Context()); ok {
					return uid
				}
				return r.RemoteAddr
			},
			Window: time.Minute,
			Max:    10,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("promotion rate limit check failed")
		},
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimit.Handler)

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{slug}", catalogHandler.ProductDetail)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", authHandler.Register)
			a.Post("/login", authHandler.Login)
			a.Post("/logout", authHandler.Logout)
			a.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMiddleware.RequireAuth)
			c.Use(security.CSRF{}.Middleware)
			c.Get("/", cartHandler.Get)
			c.Post("/items", cartHandler.AddItem)
			c.Patch("/items/{productID}", cartHandler.UpdateItem)
			c.Delete("/items/{productID}", cartHandler.RemoveItem)
			c.With(promoLimit.Middleware).Post("/promotion", cartHandler.ApplyPromotion)
			c.Delete("/promotion", cartHandler.RemovePromotion)
		})

		idem := common.Idem{R: deps.Redis, TTL: 24 * time.Hour}
		v.With(authMiddleware.RequireAuth, security.CSRF{}.Middleware, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/membership", membershipHandler.Get)
			authR.Get("/orders", orderHandler.List)
			authR.Get("/orders/{orderID}", orderHandler.Get)
		})

		if cfg.AdminAPIToken != "" {
			v.Route("/admin", func(admin chi.Router) {
				admin.Use(requireAdminToken(cfg.AdminAPIToken))
				admin.Post("/promotions", promotionAdmin.Create)
				admin.Get("/promotions", promotionAdmin.List)
				admin.Patch("/promotions/{promotionID}/active", promotionAdmin.SetActive)
				admin.Post("/promotions/{promotionID}/codes", promotionAdmin.CreateCode)
				admin.Patch("/orders/{orderID}/status", orderAdmin.PatchStatus)
				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
				admin.Get("/queue/stats", queueAdmin.Stats)
			})
		}
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-runCtx.Done():
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		logger.Info().Msg("server shutdown complete")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func requireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
			if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
