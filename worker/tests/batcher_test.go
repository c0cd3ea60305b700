package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pixelwars/models"
	storemocks "github.com/zlnvch/pixelwars/store/mocks"
	"github.com/zlnvch/pixelwars/worker"
)

// Long enough that tickers never fire during a test
const idleTickerMs = 3600 * 1000

func events(canvasName string, n int) []models.PixelEvent {
	out := make([]models.PixelEvent, n)
	for i := range out {
		out[i] = models.PixelEvent{Id: fmt.Sprintf("%s-%03d", canvasName, i), Canvas: canvasName, X: i}
	}
	return out
}

func drainCounterUpdates(ch chan worker.CounterUpdate) map[string]int {
	totals := make(map[string]int)
	for {
		select {
		case u := <-ch:
			totals[u.Canvas] += u.Delta
		default:
			return totals
		}
	}
}

func TestPixelBatcher_FlushesFullBatch(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, idleTickerMs)
	batcher := worker.NewPixelBatcher(mockStore, idleTickerMs, counterBatcher)

	batch := append(events("a", 20), events("b", 5)...)

	written := make(chan []models.PixelEvent, 1)
	mockStore.On("WritePixelEventBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in := args.Get(1).([]models.PixelEvent)
		written <- append([]models.PixelEvent(nil), in...)
	}).Return([]models.PixelEvent{}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	for _, e := range batch {
		batcher.WriteCh <- e
	}

	select {
	case got := <-written:
		assert.Equal(t, batch, got)
	case <-time.After(time.Second):
		t.Fatal("batch was not flushed")
	}

	assert.Eventually(t, func() bool { return len(counterBatcher.UpdateCh) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]int{"a": 20, "b": 5}, drainCounterUpdates(counterBatcher.UpdateCh))
}

func TestPixelBatcher_UnprocessedAreNotCounted(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, idleTickerMs)
	batcher := worker.NewPixelBatcher(mockStore, idleTickerMs, counterBatcher)

	batch := events("a", 3)
	mockStore.On("WritePixelEventBatch", mock.Anything, batch).Return([]models.PixelEvent{batch[1]}, errors.New("throttled"))

	ctx, cancel := context.WithCancel(context.Background())
	for _, e := range batch {
		batcher.WriteCh <- e
	}

	done := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batcher did not stop")
	}

	mockStore.AssertNumberOfCalls(t, "WritePixelEventBatch", 1)
	assert.Equal(t, map[string]int{"a": 2}, drainCounterUpdates(counterBatcher.UpdateCh))
}

func TestPixelBatcher_FlushesOnTicker(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	batcher := worker.NewPixelBatcher(mockStore, 20, nil)

	flushed := make(chan struct{})
	mockStore.On("WritePixelEventBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		close(flushed)
	}).Return([]models.PixelEvent{}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.WriteCh <- events("a", 1)[0]

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("ticker did not flush the partial batch")
	}
}

func TestCounterBatcher_AggregatesPerCanvas(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	batcher := worker.NewCounterBatcher(mockStore, idleTickerMs)

	mockStore.On("IncrementCanvasWriteCount", mock.Anything, "a", 7).Return(nil).Once()
	mockStore.On("IncrementCanvasWriteCount", mock.Anything, "b", 1).Return(errors.New("dynamo down")).Once()

	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "a", Delta: 5}
	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "b", Delta: 1}
	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "a", Delta: 2}
	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "", Delta: 9}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run drains the channel and waits for the final flush before returning
	batcher.Run(ctx)

	mockStore.AssertExpectations(t)
	mockStore.AssertNumberOfCalls(t, "IncrementCanvasWriteCount", 2)
}

func TestCounterBatcher_SkipsZeroCounts(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	batcher := worker.NewCounterBatcher(mockStore, idleTickerMs)

	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "a", Delta: 3}
	batcher.UpdateCh <- worker.CounterUpdate{Canvas: "a", Delta: -3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batcher.Run(ctx)

	mockStore.AssertNotCalled(t, "IncrementCanvasWriteCount", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, batcher.UpdateCh, 0)
}

func TestBatchers_ShutdownFlushReachesCounters(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, idleTickerMs)
	batcher := worker.NewPixelBatcher(mockStore, idleTickerMs, counterBatcher)

	mockStore.On("WritePixelEventBatch", mock.Anything, mock.Anything).Return([]models.PixelEvent{}, nil).Once()
	mockStore.On("IncrementCanvasWriteCount", mock.Anything, "a", 3).Return(nil).Once()

	for _, e := range events("a", 3) {
		batcher.WriteCh <- e
	}

	ctx, cancel := context.WithCancel(context.Background())
	go counterBatcher.Run(ctx)
	go batcher.Run(ctx)
	cancel()

	for _, done := range []<-chan struct{}{batcher.Done(), counterBatcher.Done()} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("batchers did not finish after shutdown")
		}
	}

	mockStore.AssertExpectations(t)
}

func TestCounterBatcher_DoneWithoutPixelBatcher(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	batcher := worker.NewCounterBatcher(mockStore, idleTickerMs)

	ctx, cancel := context.WithCancel(context.Background())
	go batcher.Run(ctx)
	cancel()

	select {
	case <-batcher.Done():
	case <-time.After(time.Second):
		t.Fatal("counter batcher did not finish after shutdown")
	}
}
