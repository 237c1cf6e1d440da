package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/droplink-app/droplink-service/cmd/middleware"
	"github.com/droplink-app/droplink-service/internal/api"
	"github.com/droplink-app/droplink-service/internal/api/handlers"
	"github.com/droplink-app/droplink-service/internal/configuration"
	"github.com/droplink-app/droplink-service/internal/services"
)

func main() {
	cfg := configuration.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	tracer.Start(tracer.WithServiceName("droplink-service"))
	defer tracer.Stop()

	store, err := services.NewPostgresStore(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()

	objects, err := services.NewMinioService(
		cfg.MinIO.Endpoint,
		cfg.MinIO.AccessKey,
		cfg.MinIO.SecretKey,
		cfg.MinIO.BucketName,
		cfg.MinIO.UseSSL,
	)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	// NATS is optional infrastructure; notifications degrade to log lines.
	natsConn, err := services.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Printf("Warning: NATS unavailable: %v", err)
	}

	auth, err := middleware.NewAuth(context.Background(), cfg.KeycloakURL)
	if err != nil {
		log.Fatalf("Failed to initialize OIDC verifier: %v", err)
	}

	provider := services.NewStripeService(cfg.Stripe, cfg.BaseURL)
	notifier := services.NewNATSNotifier(natsConn)
	sweeper := services.NewSweeper(store, objects)
	gate := services.NewGate(store, sweeper)
	reconciler := services.NewReconciler(store, provider, notifier, cfg.BaseURL)
	scanner := services.NewPolicyScanner(cfg.CLAMAVURL)

	h := handlers.New(store, objects, provider, gate, sweeper, reconciler, scanner, natsConn)
	h.SubscribeEvents(natsConn)

	r := gin.Default()
	r.Use(gintrace.Middleware("droplink-service"))
	api.RegisterRoutes(r, h, auth, cfg.Admin.Secret)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting, drain in-flight requests.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	if natsConn != nil {
		natsConn.Drain()
	}
}
