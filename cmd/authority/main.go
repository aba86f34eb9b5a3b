package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/escrowflow/internal/authority"
	"github.com/joao-fontenele/escrowflow/internal/config"
	"github.com/joao-fontenele/escrowflow/internal/telemetry"
)

const (
	serviceName    = "authority"
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
	marketURL, err := config.Required("MARKET_URL")
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL, "authority")
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
	dispatcher := authority.NewDispatcher(strings.TrimRight(marketURL, "/")+"/payments/callback", httpClient, logger)
	handler := authority.NewHandler(authority.NewReservationRepository(db), dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reservations", telemetry.WithHTTPRoute(handler.HandleReserve))
	mux.HandleFunc("GET /reservations/{reference}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("POST /reservations/{reference}/settle", telemetry.WithHTTPRoute(handler.HandleSettle))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8085")
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
		logger.Info("starting payment authority sandbox", "port", port, "callback_url", marketURL)
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
	dispatcher.Wait()
}
