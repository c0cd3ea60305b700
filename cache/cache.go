package cache

import "context"

type PixelEventCacheItem struct {
	EventId string
	Score   int64
	Data    []byte
}

// PixelWarsCache carries live fan-out between instances and a hot copy of
// the newest pixel history per canvas.
type PixelWarsCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	AddPixelEvent(ctx context.Context, canvasName string, eventId string, score int64, eventData []byte) error
	AddPixelEventsBatch(ctx context.Context, canvasName string, events []PixelEventCacheItem) error
	GetPixelEvents(ctx context.Context, canvasName string) ([][]byte, error)

	SetHistoryComplete(ctx context.Context, canvasName string) error
	IsHistoryComplete(ctx context.Context, canvasName string) (bool, error)
	InvalidateHistory(ctx context.Context, canvasName string) error
}
