package service

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const UsersEvictedChannel = "users-evicted"

type Stats struct {
	Canvas      string        `json:"canvas"`
	Width       int           `json:"nx"`
	Height      int           `json:"ny"`
	Cooldown    time.Duration `json:"timeout"`
	Users       int           `json:"users"`
	PendingKeys int           `json:"pendingKeys"`
	WriteCount  int           `json:"writeCount"`
}

type UsersEvictedMessage struct {
	Canvas  string   `json:"canvas"`
	UserIds []string `json:"userIds"`
}

func (s *Service) GetStats(ctx context.Context, canvasName string) (Stats, error) {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return Stats{}, err
	}

	width, height := cv.Dimensions()
	users, keys := cv.Counts()
	stats := Stats{
		Canvas:      canvasName,
		Width:       width,
		Height:      height,
		Cooldown:    cv.Cooldown(),
		Users:       users,
		PendingKeys: keys,
	}

	if s.Store != nil {
		archived, err := s.Store.GetCanvasStats(ctx, canvasName)
		if err != nil {
			// Live numbers are still useful without the archive
			log.Printf("Failed to get archived stats for canvas %s: %v", canvasName, err)
		} else {
			stats.WriteCount = archived.WriteCount
		}
	}

	return stats, nil
}

// EvictIdle drops users not seen for maxIdle and session keys older than
// that on every canvas, and announces evicted users so live sockets close.
func (s *Service) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	total := 0

	for _, name := range s.Canvases.Names() {
		cv, err := s.Canvases.Get(name)
		if err != nil {
			continue
		}

		evicted, droppedKeys := cv.EvictIdle(maxIdle)
		if droppedKeys > 0 {
			log.Printf("Dropped %d unused session keys from canvas %s", droppedKeys, name)
		}
		if len(evicted) == 0 {
			continue
		}
		total += len(evicted)
		metricUsersEvicted.Add(float64(len(evicted)))

		msgBytes, err := json.Marshal(UsersEvictedMessage{Canvas: name, UserIds: evicted})
		if err != nil {
			continue
		}
		if err := s.Cache.Publish(ctx, UsersEvictedChannel, msgBytes); err != nil {
			log.Printf("Failed to publish evicted users of canvas %s: %v", name, err)
		}
	}

	return total
}
