package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/pixelwars/cache"
	"github.com/zlnvch/pixelwars/models"
	"github.com/zlnvch/pixelwars/mq"
)

// Newest events returned by LoadHistory
const maxHistoryEvents = 1000

var ErrHistoryUnavailable = errors.New("history archive unavailable")

func timeFromEventId(eventId string) (time.Time, error) {
	id, err := uuid.FromString(eventId)
	if err != nil {
		return time.Time{}, err
	}
	if id.Version() != uuid.V7 {
		return time.Time{}, fmt.Errorf("event id %s is not a uuidv7", eventId)
	}
	ts, err := uuid.TimestampFromV7(id)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time()
}

// LoadHistory returns the newest accepted writes of a canvas, oldest first.
// Redis answers alone when it holds the complete tail; otherwise the
// DynamoDB archive is merged in and written back to the cache.
func (s *Service) LoadHistory(ctx context.Context, canvasName string) ([]models.PixelEvent, error) {
	if _, err := s.Canvases.Get(canvasName); err != nil {
		return nil, err
	}

	rawEvents, cacheErr := s.Cache.GetPixelEvents(ctx, canvasName)
	cachedEvents := []models.PixelEvent{}
	if cacheErr == nil {
		for _, b := range rawEvents {
			var event models.PixelEvent
			if err := json.Unmarshal(b, &event); err == nil {
				cachedEvents = append(cachedEvents, event)
			}
		}
	}

	isComplete, _ := s.Cache.IsHistoryComplete(ctx, canvasName)
	if isComplete && cacheErr == nil {
		return cachedEvents, nil
	}

	if s.Store == nil {
		return nil, ErrHistoryUnavailable
	}
	dbEvents, err := s.Store.GetPixelEvents(ctx, canvasName)
	if err != nil {
		return nil, err
	}

	events := mergeEvents(dbEvents, cachedEvents)
	if len(events) > maxHistoryEvents {
		events = events[len(events)-maxHistoryEvents:]
	}

	batchItems := make([]cache.PixelEventCacheItem, 0, len(dbEvents))
	for _, event := range dbEvents {
		eventBytes, err := json.Marshal(event)
		if err != nil {
			continue
		}
		batchItems = append(batchItems, cache.PixelEventCacheItem{
			EventId: event.Id,
			Score:   eventScore(event),
			Data:    eventBytes,
		})
	}

	if err := s.Cache.AddPixelEventsBatch(ctx, canvasName, batchItems); err != nil {
		log.Printf("Failed to backfill history cache for canvas %s: %v", canvasName, err)
		return events, nil
	}
	if err := s.Cache.SetHistoryComplete(ctx, canvasName); err != nil {
		log.Printf("Failed to mark history complete for canvas %s: %v", canvasName, err)
	}

	return events, nil
}

// eventScore is the write time in ms. Archived rows without one fall back
// to the time inside their uuidv7 id.
func eventScore(event models.PixelEvent) int64 {
	if event.At != 0 {
		return event.At
	}
	at, err := timeFromEventId(event.Id)
	if err != nil {
		return 0
	}
	return at.UnixMilli()
}

// mergeEvents merges two id-ordered event lists, dropping duplicates.
// UUIDv7 ids sort by creation time.
func mergeEvents(dbEvents []models.PixelEvent, cachedEvents []models.PixelEvent) []models.PixelEvent {
	merged := make([]models.PixelEvent, 0, len(dbEvents)+len(cachedEvents))
	i, j := 0, 0
	for i < len(dbEvents) && j < len(cachedEvents) {
		dbId := dbEvents[i].Id
		cachedId := cachedEvents[j].Id

		switch {
		case dbId == cachedId:
			merged = append(merged, cachedEvents[j])
			i++
			j++
		case dbId < cachedId:
			merged = append(merged, dbEvents[i])
			i++
		default:
			merged = append(merged, cachedEvents[j])
			j++
		}
	}
	merged = append(merged, dbEvents[i:]...)
	merged = append(merged, cachedEvents[j:]...)
	return merged
}

// DeleteHistory queues removal of the archived history of a canvas. The
// live grid is not affected.
func (s *Service) DeleteHistory(ctx context.Context, canvasName string) error {
	if _, err := s.Canvases.Get(canvasName); err != nil {
		return err
	}
	if s.MQ == nil {
		return ErrHistoryUnavailable
	}
	if err := mq.SendDeleteHistoryJob(ctx, s.MQ, canvasName); err != nil {
		return fmt.Errorf("failed to queue history deletion: %w", err)
	}
	log.Printf("Queued history deletion for canvas %s", canvasName)
	return nil
}
