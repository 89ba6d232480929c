package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/foodie/internal/cart"
	"github.com/Skotchmaster/foodie/internal/events"
	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/guard"
	"github.com/Skotchmaster/foodie/internal/httpserver"
	"github.com/Skotchmaster/foodie/internal/orders"
	"github.com/Skotchmaster/foodie/internal/session"
	"github.com/Skotchmaster/foodie/internal/store"
	"github.com/Skotchmaster/foodie/pkg/config"
	"github.com/Skotchmaster/foodie/pkg/logging"
	"github.com/Skotchmaster/foodie/pkg/middleware/csrf"
	loggingmw "github.com/Skotchmaster/foodie/pkg/middleware/logging"
)

func main() {
	cfg := config.Load()
	config.MustNonEmpty(cfg.APIBaseURL, "API_BASE_URL")
	config.MustOneOf(cfg.StoreDriver, "STORE_DRIVER", "memory", "sqlite", "postgres")

	logger := logging.New(cfg.LogLevel)
	ctx := logging.IntoContext(context.Background(), logger)

	fee, err := decimal.NewFromString(cfg.DeliveryFee)
	if err != nil || fee.IsNegative() {
		log.Fatalf("DELIVERY_FEE=%q must be a non-negative amount", cfg.DeliveryFee)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer closeStore()

	pub := events.Publisher(events.Nop{})
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka init error: %v", err)
		}
		pub = kp
	}
	defer pub.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw := gateway.NewClient(cfg.APIBaseURL, gateway.Options{
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
		Metrics:   gateway.NewMetrics(reg),
	})
	mgr := session.NewManager(st, gw, session.Options{ServerLogout: cfg.ServerLogout, Events: pub})
	gw.Bind(mgr)

	reconciler := cart.New(st, mgr, cart.Options{DeliveryFee: fee, Events: pub})
	mgr.OnLogin(reconciler.HandleLogin)
	mgr.OnSessionEnd(reconciler.HandleSessionEnd)

	table, err := guard.LoadTable(cfg.RoutesFile, cfg.MenuPublic)
	if err != nil {
		log.Fatalf("routes init error: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(loggingmw.RequestLogger(logger))
	if cfg.CSRF {
		e.Use(csrf.Middleware(csrf.Config{SkipPaths: []string{"/health/live", "/health/ready", "/metrics"}}))
	}

	httpserver.Register(e, &httpserver.Deps{
		Sessions: mgr,
		Cart:     reconciler,
		Orders:   orders.NewService(gw, reconciler),
		Guard:    guard.New(table, mgr),
		Gatherer: reg,
	})

	go func() {
		if err := mgr.Restore(ctx); err != nil {
			logger.Warn("session_restore_failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("storefront_started", "addr", cfg.ListenAddr, "api", cfg.APIBaseURL, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("storefront_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
}

// openStore builds the configured store, sealing it when a passphrase is set.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	var (
		st      store.Store
		closeFn = func() {}
	)

	switch cfg.StoreDriver {
	case "memory":
		st = store.NewMemory()
	default:
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		sqlStore, err := store.OpenSQL(initCtx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		st = sqlStore
		closeFn = func() { _ = sqlStore.Close() }
	}

	if cfg.StorePassphrase == "" {
		return st, closeFn, nil
	}
	sealed, err := store.NewSealed(ctx, st, cfg.StorePassphrase)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return sealed, closeFn, nil
}
