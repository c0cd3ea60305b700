package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/pixelwars/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetPixelEvents(ctx context.Context, canvasName string) ([]models.PixelEvent, error) {
	args := m.Called(ctx, canvasName)
	return args.Get(0).([]models.PixelEvent), args.Error(1)
}

func (m *MockStore) WritePixelEventBatch(ctx context.Context, events []models.PixelEvent) ([]models.PixelEvent, error) {
	args := m.Called(ctx, events)
	return args.Get(0).([]models.PixelEvent), args.Error(1)
}

func (m *MockStore) CountPixelEvents(ctx context.Context, canvasName string) (int, error) {
	args := m.Called(ctx, canvasName)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) DeleteCanvasHistory(ctx context.Context, canvasName string) error {
	args := m.Called(ctx, canvasName)
	return args.Error(0)
}

func (m *MockStore) GetCanvasStats(ctx context.Context, canvasName string) (models.CanvasStats, error) {
	args := m.Called(ctx, canvasName)
	return args.Get(0).(models.CanvasStats), args.Error(1)
}

func (m *MockStore) IncrementCanvasWriteCount(ctx context.Context, canvasName string, count int) error {
	args := m.Called(ctx, canvasName, count)
	return args.Error(0)
}
