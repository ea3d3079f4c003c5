package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/storefront-reconciler/internal/application/order"
	apppay "github.com/Zhima-Mochi/storefront-reconciler/internal/application/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/config"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/gateway/vnpay"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability/telemetry"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/rabbitmq"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/redis"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/sqlite"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/storefront-reconciler/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/storefront-reconciler/internal/presentation/worker"
)

const serviceVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	logger := zaplogger.New(baseLogger)
	systemLogger := logger.With(
		observability.F("trace_id", logging.SystemTraceID),
		observability.F("span_id", logging.SystemSpanID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.Options{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.Env != config.EnvProd,
	})
	if err != nil {
		if tp == nil {
			return err
		}
		// spans are still sampled, only the exporter is missing
		systemLogger.Warn("tracing_exporter_unavailable", observability.Err(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraobs.NewPrometheus(oteltrace.NewWithProvider(tp, cfg.ServiceName), logger, prometrics.New(reg, "", ""))

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.Env != config.EnvProd {
		if err := store.SeedDemo(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	collab, err := connectAdapters(ctx, cfg, tp, tel, systemLogger)
	if err != nil {
		return err
	}
	defer collab.close()

	bus := outbox.NewBus(tel,
		outbox.WithMaxAttempts(cfg.TaskMaxAttempts),
		outbox.WithContextHook(workerpresentation.EventContextHook(logger)),
	)

	repos := store.Repositories()
	catalogReader := cache.NewCachedReader(store.Catalog(), cache.DefaultTTL)
	ids := application.IDFunc(uuid.NewString)

	ledger := appinv.NewLedger(store, store.Lots(), bus, tel)
	orders := apporder.NewManager(store, repos.Orders, catalogReader, ledger, bus, collab.mailer, ids, tel)

	appinv.NewWorker(bus, collab.notifier, cfg.LowStockThreshold, tel).Start()
	apporder.NewWorker(bus, collab.notifier, tel).Start()
	apppay.NewWorker(bus, repos.Orders, catalogReader, collab.cart, collab.mailer, collab.notifier, tel).Start()

	deps := httppresentation.Deps{
		Orders:    orders,
		Inventory: ledger,
		Users:     catalogReader,
		Health:    store,
	}
	if cfg.PaymentsEnabled() {
		gateway, err := vnpay.New(cfg.VNPay)
		if err != nil {
			return err
		}
		deps.Payments = apppay.NewInitiatePaymentUseCase(store, repos.Orders, gateway, ids, tel)
		deps.Callbacks = apppay.NewReconciler(store, gateway, orders, bus, tel,
			apppay.WithRestoreOnFailure(cfg.RestoreStockOnPaymentFailure),
		)
		if cfg.VNPay.SkipSignature {
			systemLogger.Warn("payment_signature_verification_disabled", observability.F("env", cfg.Env))
		}
	} else {
		systemLogger.Warn("payment_gateway_disabled", observability.F("reason", "VNPAY_TMN_CODE or VNPAY_HASH_SECRET not set"))
	}

	bus.Start(ctx)

	router := httppresentation.NewHandler(deps, tel).Router()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// drain side effects of requests that completed before shutdown
		if err := bus.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("task queue: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		if len(errs) == 0 {
			systemLogger.Info("http_server_stopped")
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

type adapters struct {
	cart     application.CartStore
	notifier application.Notifier
	mailer   application.Mailer
	closers  []func() error
}

func (a *adapters) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// connectAdapters selects a broker-backed implementation for every collaborator whose address is
// configured and the in-memory one otherwise.
func connectAdapters(
	ctx context.Context,
	cfg *config.Config,
	tp trace.TracerProvider,
	tel observability.Observability,
	logger observability.Logger,
) (*adapters, error) {
	a := &adapters{
		cart:     memory.NewCartStore(),
		notifier: memory.NewNotifier(logger),
		mailer:   memory.NewMailer(logger),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(cfg.RedisAddr)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.cart = redis.NewCartStore(client, tel)
		a.closers = append(a.closers, client.Close)
	}

	if cfg.AMQPURL != "" {
		conn, ch, err := rabbitmq.Connect(ctx, cfg.AMQPURL, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.notifier = rabbitmq.NewNotifier(ch, tel)
		a.closers = append(a.closers, conn.Close)
	}

	if cfg.KafkaBrokers != "" {
		writer, err := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaEmailTopic, cfg.ServiceName, tp)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		mailer := kafka.NewMailer(writer, tel)
		a.mailer = mailer
		a.closers = append(a.closers, mailer.Close)
	}

	logger.Info("adapters_ready",
		observability.F("cart", fmt.Sprintf("%T", a.cart)),
		observability.F("notifier", fmt.Sprintf("%T", a.notifier)),
		observability.F("mailer", fmt.Sprintf("%T", a.mailer)),
	)
	return a, nil
}
