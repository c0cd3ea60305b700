package store

import (
	"context"
	"errors"

	"github.com/zlnvch/pixelwars/models"
)

// PixelWarsStore archives accepted pixel writes. It is never read back into
// a canvas; live canvas state only exists in memory.
type PixelWarsStore interface {
	GetPixelEvents(ctx context.Context, canvasName string) ([]models.PixelEvent, error)
	WritePixelEventBatch(ctx context.Context, events []models.PixelEvent) ([]models.PixelEvent, error)
	CountPixelEvents(ctx context.Context, canvasName string) (int, error)
	DeleteCanvasHistory(ctx context.Context, canvasName string) error

	GetCanvasStats(ctx context.Context, canvasName string) (models.CanvasStats, error)
	IncrementCanvasWriteCount(ctx context.Context, canvasName string, count int) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
