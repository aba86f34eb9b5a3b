package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/escrowflow/internal/authority"
	"github.com/joao-fontenele/escrowflow/internal/checkout"
	"github.com/joao-fontenele/escrowflow/internal/config"
	"github.com/joao-fontenele/escrowflow/internal/escrow"
	"github.com/joao-fontenele/escrowflow/internal/ledger"
	"github.com/joao-fontenele/escrowflow/internal/market"
	"github.com/joao-fontenele/escrowflow/internal/messaging"
	"github.com/joao-fontenele/escrowflow/internal/payments"
	"github.com/joao-fontenele/escrowflow/internal/telemetry"
)

const (
	serviceName    = "market"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger(serviceName, config.String("LOG_LEVEL", "info"))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL, err := config.Required("POSTGRES_URL")
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL, "market")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	authorityClient := authority.NewClient(config.String("AUTHORITY_URL", "http://localhost:8085"), httpClient, logger)

	opts := []checkout.Option{
		checkout.WithSweepBatch(config.Int("SWEEP_BATCH", 100)),
		checkout.WithSweepConcurrency(config.Int("SWEEP_CONCURRENCY", 8)),
	}
	if brokers := config.Strings("KAFKA_BROKERS"); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		opts = append(opts, checkout.WithNotifier(producer))
	} else {
		logger.Warn("KAFKA_BROKERS not set, lifecycle notifications are disabled")
	}

	repo := ledger.NewRepository(db)
	tracker := payments.NewTracker(repo, authorityClient)
	allocator := escrow.NewAllocator(repo, escrow.WithProtectionWindow(config.Duration("PROTECTION_WINDOW", escrow.DefaultProtectionWindow)))
	coord := checkout.NewCoordinator(repo, tracker, allocator, logger, opts...)
	handler := market.NewHandler(coord, config.String("DEFAULT_CURRENCY", "usd"), logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8081")
	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting market service", "port", port, "protection_window", allocator.ProtectionWindow().String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
