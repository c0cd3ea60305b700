package worker

import (
	"context"
	"log"
	"time"

	"github.com/zlnvch/pixelwars/models"
	"github.com/zlnvch/pixelwars/store"
)

// DynamoDB BatchWriteItem limit
const pixelBatchSize = 25

type PixelBatcher struct {
	WriteCh            chan models.PixelEvent
	pixelWarsStore     store.PixelWarsStore
	counterBatcher     *CounterBatcher
	tickerMilliseconds int
	done               chan struct{}
}

// NewPixelBatcher feeds write counts into counterBatcher, which then holds
// its own shutdown until this batcher's final flush is done.
func NewPixelBatcher(pixelWarsStore store.PixelWarsStore, tickerMilliseconds int, counterBatcher *CounterBatcher) *PixelBatcher {
	b := &PixelBatcher{
		WriteCh:            make(chan models.PixelEvent, 1024),
		pixelWarsStore:     pixelWarsStore,
		counterBatcher:     counterBatcher,
		tickerMilliseconds: tickerMilliseconds,
		done:               make(chan struct{}),
	}
	if counterBatcher != nil {
		counterBatcher.upstream = b.done
	}
	return b
}

// Done is closed once Run has returned after its final flush.
func (b *PixelBatcher) Done() <-chan struct{} {
	return b.done
}

func (b *PixelBatcher) Run(shutdownCtx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.PixelEvent, 0, pixelBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx so the final flush still lands
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.pixelWarsStore.WritePixelEventBatch(ctx, batch)
		if err != nil {
			log.Printf("Error writing pixel batch to dynamo: %v", err)
		}

		failed := make(map[string]bool, len(unprocessed))
		for _, u := range unprocessed {
			failed[u.Id] = true
		}

		written := make(map[string]int)
		for _, e := range batch {
			if !failed[e.Id] {
				written[e.Canvas]++
			}
		}
		if len(failed) > 0 {
			log.Printf("Dropped %d unprocessed pixel events", len(failed))
		}

		if b.counterBatcher != nil {
			for canvasName, n := range written {
				b.counterBatcher.UpdateCh <- CounterUpdate{Canvas: canvasName, Delta: n}
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case event := <-b.WriteCh:
			batch = append(batch, event)
			if len(batch) == pixelBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			// Drain what is already buffered
			for {
				select {
				case event := <-b.WriteCh:
					batch = append(batch, event)
					if len(batch) == pixelBatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}
