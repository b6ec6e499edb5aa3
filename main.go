package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apppayment "github.com/Zhima-Mochi/payflow/internal/application/payment"
	"github.com/Zhima-Mochi/payflow/internal/config"
	domoutbox "github.com/Zhima-Mochi/payflow/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/dummy"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/netaxept"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/paybox"
	httptransport "github.com/Zhima-Mochi/payflow/internal/infrastructure/http"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/memory"
	obsprovider "github.com/Zhima-Mochi/payflow/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/sqlite"
	"github.com/Zhima-Mochi/payflow/internal/observability"
)

func main() {
	cfg := config.FromEnv()

	logger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)

	metrics := prometrics.New("payflow", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MPaymentOperations: metrics.Counter(
			string(observability.MPaymentOperations),
			"Total number of payment operations.",
			"operation", "outcome",
		),
		observability.MGatewayRequests: metrics.Counter(
			string(observability.MGatewayRequests),
			"Total number of gateway requests.",
			"gateway", "operation", "outcome",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MPaymentOperationLatency: metrics.Histogram(
			string(observability.MPaymentOperationLatency),
			"Duration of payment operations in seconds.",
			prometheus.DefBuckets,
			"operation",
		),
		observability.MGatewayRequestLatency: metrics.Histogram(
			string(observability.MGatewayRequestLatency),
			"Duration of gateway requests in seconds.",
			prometheus.DefBuckets,
			"gateway", "operation",
		),
	}
	tel := obsprovider.New(oteltrace.New(cfg.ServiceName), logger, counters, histograms)

	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		logger.Error("repository_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}
	defer closeRepo()

	registry := gateway.NewRegistry()
	mustRegister(logger, registry, dummy.Name, dummy.New(), cfg.Dummy)
	if cfg.Netaxept != nil {
		mustRegister(logger, registry, netaxept.Name, netaxept.New(), *cfg.Netaxept)
	}
	if cfg.Paybox != nil {
		mustRegister(logger, registry, paybox.Name, paybox.New(), *cfg.Paybox)
	}

	bus := outbox.NewBus(logger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())
	subscribeAudit(bus, logger)

	service := apppayment.NewService(repo, registry, bus, tel)

	var actions *netaxept.Actions
	if cfg.Netaxept != nil {
		actions = netaxept.NewActions(repo, registry, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httptransport.NewHandler(service, actions).Router())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("gateways", registry.Names()),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", observability.F("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("http_server_stopped")
	}
}

func buildRepository(cfg config.Config) (dompay.Repository, func(), error) {
	if cfg.SQLitePath == "" {
		return memory.NewPaymentRepository(), func() {}, nil
	}
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := sqlite.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return sqlite.NewPaymentRepository(db), func() { _ = db.Close() }, nil
}

func mustRegister(logger observability.Logger, registry *gateway.Registry, name string, plugin any, cfg gateway.Config) {
	if err := registry.Register(name, plugin, cfg); err != nil {
		logger.Error("gateway_register_failed",
			observability.F("gateway", name),
			observability.F("error", err.Error()),
		)
		os.Exit(1)
	}
}

// subscribeAudit logs every committed lifecycle event, giving a single
// auditable trail across gateways.
func subscribeAudit(bus *outbox.Bus, logger observability.Logger) {
	log := func(ctx context.Context, e domoutbox.Event) error {
		logger.Info("payment_event", observability.F("event", e.EventName()), observability.F("payload", e))
		return nil
	}
	for _, name := range []string{
		dompay.AuthorizedEvent{}.EventName(),
		dompay.ProcessedEvent{}.EventName(),
		dompay.CapturedEvent{}.EventName(),
		dompay.VoidedEvent{}.EventName(),
		dompay.RefundedEvent{}.EventName(),
	} {
		bus.Subscribe(name, log)
	}
}
