package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zlnvch/pixelwars/store"
)

type CounterUpdate struct {
	Canvas string
	Delta  int
}

// Flush early once this many canvases have pending counts
const maxPendingCanvases = 100

type CounterBatcher struct {
	UpdateCh           chan CounterUpdate
	pixelWarsStore     store.PixelWarsStore
	tickerMilliseconds int
	wg                 sync.WaitGroup
	upstream           <-chan struct{}
	done               chan struct{}
}

func NewCounterBatcher(pixelWarsStore store.PixelWarsStore, tickerMilliseconds int) *CounterBatcher {
	return &CounterBatcher{
		UpdateCh:           make(chan CounterUpdate, 1024),
		pixelWarsStore:     pixelWarsStore,
		tickerMilliseconds: tickerMilliseconds,
		done:               make(chan struct{}),
	}
}

// Done is closed once Run has returned and every store update has landed.
func (b *CounterBatcher) Done() <-chan struct{} {
	return b.done
}

func (b *CounterBatcher) Run(shutdownCtx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	canvasCounts := make(map[string]int)

	flush := func() {
		for canvasName, count := range canvasCounts {
			if count == 0 {
				continue
			}
			b.wg.Add(1)
			go func(name string, c int) {
				defer b.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.pixelWarsStore.IncrementCanvasWriteCount(ctx, name, c); err != nil {
					log.Printf("Failed to update write count for canvas %s: %v", name, err)
				}
			}(canvasName, count)
		}
		canvasCounts = make(map[string]int)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.Canvas != "" {
				canvasCounts[update.Canvas] += update.Delta
			}
			if len(canvasCounts) >= maxPendingCanvases {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			// The pixel batcher still sends counts from its final flush
			for b.upstream != nil {
				select {
				case update := <-b.UpdateCh:
					if update.Canvas != "" {
						canvasCounts[update.Canvas] += update.Delta
					}
				case <-b.upstream:
					b.upstream = nil
				}
			}

			for {
				select {
				case update := <-b.UpdateCh:
					if update.Canvas != "" {
						canvasCounts[update.Canvas] += update.Delta
					}
					continue
				default:
				}
				break
			}
			flush()
			b.wg.Wait()
			return
		}
	}
}
