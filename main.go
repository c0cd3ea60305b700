package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/zlnvch/pixelwars/api"
	"github.com/zlnvch/pixelwars/cache/redis"
	"github.com/zlnvch/pixelwars/config"
	"github.com/zlnvch/pixelwars/mq/sqsmq"
	"github.com/zlnvch/pixelwars/store/dynamo"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	devMode := cfg.Server.DevMode

	pixelWarsStore, err := dynamo.NewDynamoPixelWarsStore(ctx, devMode, cfg.AWS.DynamoDBEndpoint, cfg.AWS.DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	deleteHistoryQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, cfg.AWS.SQSEndpoint, cfg.AWS.SQSHistoryQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	pixelWarsCache, err := redis.NewRedisPixelWarsCache(ctx, devMode, cfg.Redis.Endpoint)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	pixelWarsApi, err := api.NewPixelWarsAPI(cfg, pixelWarsStore, deleteHistoryQueue, pixelWarsCache, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create pixel wars api: %v", err)
	}

	mux := http.NewServeMux()
	pixelWarsApi.RegisterRoutes(mux, cfg.Server.AllowedOrigins)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	})
	if slices.Contains(cfg.Server.AllowedOrigins, "*") {
		// Wildcard with credentials needs the origin reflected back
		corsHandler = cors.New(cors.Options{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowCredentials: true,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
		})
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: corsHandler.Handler(mux),
	}

	go func() {
		log.Printf("Starting server on port: %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := pixelWarsApi.WaitForWorkers(ctx); err != nil {
		log.Printf("Batchers did not finish flushing: %v", err)
	}
}
