package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremy-jemverse/flownodes/cmd/server/config"
	"github.com/jeremy-jemverse/flownodes/internal/api"
	"github.com/jeremy-jemverse/flownodes/internal/events"
	"github.com/jeremy-jemverse/flownodes/internal/nodes/postgres"
	"github.com/jeremy-jemverse/flownodes/internal/nodes/sendgrid"
	"github.com/jeremy-jemverse/flownodes/internal/nodes/webhook"
	"github.com/jeremy-jemverse/flownodes/internal/observability"
	"github.com/jeremy-jemverse/flownodes/internal/orders"
	"github.com/jeremy-jemverse/flownodes/internal/realtime"
	"github.com/jeremy-jemverse/flownodes/internal/runtime"
	"github.com/jeremy-jemverse/flownodes/internal/schema"

	"github.com/joho/godotenv"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	invoker := runtime.NewInvoker(runtime.WithObserver(metrics))
	client := runtime.NewClient(invoker, log.Printf)
	defer client.Close()

	hub := realtime.NewHub()
	go hub.Run(ctx)

	var primary events.Publisher = events.LogPublisher{Logf: log.Printf}
	if cfg.JournalPath != "" {
		journal, journalErr := events.NewFileJournal(cfg.JournalPath)
		if journalErr != nil {
			return journalErr
		}
		defer journal.Close()
		primary = journal
	}
	publisher := events.NewFanoutPublisher(primary, hub)

	cache, cleanupCache, err := buildWebhookCache(ctx)
	if err != nil {
		return err
	}
	defer cleanupCache()

	registry := schema.NewRegistry()
	var webhookOpts []webhook.Option
	if cache != nil {
		webhookOpts = append(webhookOpts, webhook.WithCache(cache))
	}
	registry.Register("webhook", webhook.New(webhookOpts...))
	registry.Register("postgres", postgres.New())
	registry.Register("sendgrid", sendgrid.New())

	processor := schema.NewProcessor(invoker, registry, schema.WithPublisher(publisher))

	payments, inventory, cleanupOrders := orders.BuildClients(ctx, cfg.DatabaseURL, log.Printf)
	defer cleanupOrders()
	orderWorkflow := orders.NewWorkflow(
		payments, inventory,
		orders.LogNotifier{Logf: log.Printf},
		orders.DefaultConfig(),
		orders.WithChildStarter(client),
		orders.WithLogf(log.Printf),
	)

	rlCfg, err := config.LoadRateLimit()
	if err != nil {
		return err
	}

	handlers := api.NewHandlers(client, orderWorkflow, processor, log.Printf)
	serverOpts := []api.ServerOption{
		api.WithRoute("GET /metrics", observability.Handler(metrics)),
		api.WithRoute("GET /ws", hub.Handler()),
	}
	if rlCfg.Enabled() {
		limiter := newHTTPRateLimiter(rlCfg.Interval, rlCfg.Burst)
		serverOpts = append(serverOpts, api.WithMiddleware(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(limiter, next)
		}))
	}
	httpSrv := api.NewServer(cfg.HTTPAddr, handlers, serverOpts...)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	grpcSrv := grpcpkg.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(grpcSrv)
		log.Println("gRPC reflection enabled (APP_ENV=", env, ")")
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.Printf("gRPC health listening on %s", cfg.GRPCAddr)
		errCh <- grpcSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcSrv.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		return nil
	case err := <-errCh:
		return err
	}
}
