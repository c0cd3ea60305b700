package service

import (
	"github.com/zlnvch/pixelwars/cache"
	"github.com/zlnvch/pixelwars/mq"
	"github.com/zlnvch/pixelwars/store"
	"github.com/zlnvch/pixelwars/worker"
)

type Service struct {
	Canvases       *Canvases
	Store          store.PixelWarsStore
	Cache          cache.PixelWarsCache
	MQ             mq.MessageQueue
	PixelBatcher   *worker.PixelBatcher
	CounterBatcher *worker.CounterBatcher
}

func NewService(
	store store.PixelWarsStore,
	cache cache.PixelWarsCache,
	mq mq.MessageQueue,
	pixelBatcher *worker.PixelBatcher,
	counterBatcher *worker.CounterBatcher,
) *Service {
	return &Service{
		Canvases:       NewCanvases(),
		Store:          store,
		Cache:          cache,
		MQ:             mq,
		PixelBatcher:   pixelBatcher,
		CounterBatcher: counterBatcher,
	}
}
