package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/pixelwars/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddPixelEvent(ctx context.Context, canvasName string, eventId string, score int64, eventData []byte) error {
	args := m.Called(ctx, canvasName, eventId, score, eventData)
	return args.Error(0)
}

func (m *MockCache) AddPixelEventsBatch(ctx context.Context, canvasName string, events []cache.PixelEventCacheItem) error {
	args := m.Called(ctx, canvasName, events)
	return args.Error(0)
}

func (m *MockCache) GetPixelEvents(ctx context.Context, canvasName string) ([][]byte, error) {
	args := m.Called(ctx, canvasName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) SetHistoryComplete(ctx context.Context, canvasName string) error {
	args := m.Called(ctx, canvasName)
	return args.Error(0)
}

func (m *MockCache) IsHistoryComplete(ctx context.Context, canvasName string) (bool, error) {
	args := m.Called(ctx, canvasName)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) InvalidateHistory(ctx context.Context, canvasName string) error {
	args := m.Called(ctx, canvasName)
	return args.Error(0)
}
