package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/pixelwars/cache"
	"github.com/zlnvch/pixelwars/mq"
	"github.com/zlnvch/pixelwars/store"
)

type MQConsumer struct {
	deleteHistoryQueue mq.MessageQueue
	pixelWarsStore     store.PixelWarsStore
	pixelWarsCache     cache.PixelWarsCache
}

func NewMQConsumer(deleteHistoryQueue mq.MessageQueue, pixelWarsStore store.PixelWarsStore, pixelWarsCache cache.PixelWarsCache) *MQConsumer {
	return &MQConsumer{
		deleteHistoryQueue: deleteHistoryQueue,
		pixelWarsStore:     pixelWarsStore,
		pixelWarsCache:     pixelWarsCache,
	}
}

// Allow up to 5 minutes for the throttled batch deletion of a canvas history
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.deleteHistoryQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			if shutdownCtx.Err() != nil {
				return
			}
			continue
		}

		mqConsumer.Handle(msg)
	}
}

// Handle processes one deletion job. The message is only removed from the
// queue once the history is gone, so failed jobs are retried.
func (mqConsumer *MQConsumer) Handle(msg *mq.Message) {
	job, err := mq.DecodeDeleteHistoryJob(msg)
	if err != nil {
		log.Printf("Dropping malformed message: %v", err)
		if err := mqConsumer.deleteHistoryQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("mqConsumer delete error: %v", err)
		}
		return
	}

	// A little less than the queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	total, err := mqConsumer.pixelWarsStore.CountPixelEvents(ctx, job.Canvas)
	if err != nil {
		log.Printf("Failed to count history of canvas %s: %v", job.Canvas, err)
	}

	if err := mqConsumer.pixelWarsStore.DeleteCanvasHistory(ctx, job.Canvas); err != nil {
		log.Printf("pixelWarsStore delete history error for canvas %s: %v", job.Canvas, err)
		return
	}

	if err := mqConsumer.pixelWarsCache.InvalidateHistory(ctx, job.Canvas); err != nil {
		log.Printf("Failed to invalidate history cache for canvas %s: %v", job.Canvas, err)
	}

	log.Printf("Deleted %d pixel events from canvas %s", total, job.Canvas)

	if err := mqConsumer.deleteHistoryQueue.Delete(context.Background(), msg); err != nil {
		log.Printf("mqConsumer delete error: %v", err)
	}
}
