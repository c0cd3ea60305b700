package api

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zlnvch/pixelwars/api/rest"
	"github.com/zlnvch/pixelwars/api/ws"
	"github.com/zlnvch/pixelwars/cache"
	"github.com/zlnvch/pixelwars/config"
	"github.com/zlnvch/pixelwars/mq"
	"github.com/zlnvch/pixelwars/service"
	"github.com/zlnvch/pixelwars/store"
	"github.com/zlnvch/pixelwars/worker"
)

type PixelWarsAPI struct {
	Service     *service.Service
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewPixelWarsAPI(
	cfg config.Config,
	pixelWarsStore store.PixelWarsStore,
	deleteHistoryQueue mq.MessageQueue,
	pixelWarsCache cache.PixelWarsCache,
	shutdownCtx context.Context,
) (*PixelWarsAPI, error) {
	wsHub := ws.NewHub(pixelWarsCache)
	if err := wsHub.InitSubscriptions(shutdownCtx); err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return nil, err
	}
	go wsHub.Run(shutdownCtx)

	counterBatcher := worker.NewCounterBatcher(pixelWarsStore, cfg.Workers.CounterFlushMs)
	pixelBatcher := worker.NewPixelBatcher(pixelWarsStore, cfg.Workers.PixelFlushMs, counterBatcher)
	go counterBatcher.Run(shutdownCtx)
	go pixelBatcher.Run(shutdownCtx)

	mqConsumer := worker.NewMQConsumer(deleteHistoryQueue, pixelWarsStore, pixelWarsCache)
	go mqConsumer.Run(shutdownCtx)

	svc := service.NewService(
		pixelWarsStore,
		pixelWarsCache,
		deleteHistoryQueue,
		pixelBatcher,
		counterBatcher,
	)

	for _, spec := range cfg.Canvases {
		if _, err := svc.CreateCanvas(spec.Name, spec.Width, spec.Height, spec.Cooldown); err != nil {
			log.Printf("Failed to create canvas %s: %v", spec.Name, err)
			return nil, err
		}
	}

	evictor := worker.NewEvictor(svc, cfg.Workers.EvictInterval, cfg.Workers.EvictMaxIdle)
	go evictor.Run(shutdownCtx)

	return &PixelWarsAPI{
		Service:     svc,
		restHandler: rest.NewHandler(svc, cfg.Server.CookieMaxAge, cfg.Server.AdminToken),
		wsHandler:   ws.NewHandler(svc, wsHub),
		shutdownCtx: shutdownCtx,
	}, nil
}

// WaitForWorkers blocks until the batchers have flushed after shutdown, or
// ctx ends first.
func (pixelWarsAPI *PixelWarsAPI) WaitForWorkers(ctx context.Context) error {
	for _, done := range []<-chan struct{}{
		pixelWarsAPI.Service.PixelBatcher.Done(),
		pixelWarsAPI.Service.CounterBatcher.Done(),
	} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (pixelWarsAPI *PixelWarsAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigins []string) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Pixel Wars"}`))
	})

	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	pixelWarsAPI.restHandler.RegisterRoutes(mux)

	wsUpgrader := pixelWarsAPI.wsHandler.NewWsUpgrader(allowedOrigins)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		pixelWarsAPI.wsHandler.ServeWS(wsUpgrader, w, r, pixelWarsAPI.shutdownCtx)
	})
}
