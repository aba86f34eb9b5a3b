package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/escrowflow/internal/config"
	"github.com/joao-fontenele/escrowflow/internal/gateway"
	"github.com/joao-fontenele/escrowflow/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger("gateway", config.String("LOG_LEVEL", "info"))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	port := config.String("PORT", "8080")

	upstreams, err := gateway.UpstreamsFromEnv()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	marketProxy := gateway.NewServiceProxy(upstreams.Market, httpClient)
	authorityProxy := gateway.NewServiceProxy(upstreams.Authority, httpClient)
	handler := gateway.NewHandler(marketProxy, authorityProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("POST /orders/{id}/confirm-receipt", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("POST /holds/{id}/dispute", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("POST /holds/{id}/resolve", telemetry.WithHTTPRoute(handler.HandleMarket))
	mux.HandleFunc("GET /authority/reservations/{reference}", telemetry.WithHTTPRoute(handler.HandleAuthority))
	mux.HandleFunc("POST /authority/reservations/{reference}/settle", telemetry.WithHTTPRoute(handler.HandleAuthority))

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "gateway",
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
		logger.Info("starting gateway service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
