package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/pixelwars/canvas"
	"github.com/zlnvch/pixelwars/models"
)

// Side effects of an accepted write get this long to finish
const sideEffectTimeout = 5 * time.Second

type UserSession struct {
	Id       string
	Width    int
	Height   int
	Cooldown time.Duration
	// Pixels is the full grid as Pixels[x][y]
	Pixels [][]models.RGB
}

type DeltaResult struct {
	Id       string
	Width    int
	Height   int
	Cooldown time.Duration
	Deltas   []models.Pixel
}

type PixelSetMessage struct {
	Type string            `json:"type"`
	Data models.PixelEvent `json:"data"`
}

func CanvasChannel(canvasName string) string {
	return "canvas:" + canvasName
}

func (s *Service) CreateCanvas(name string, width, height int, cooldown time.Duration, opts ...canvas.Option) (*canvas.Canvas, error) {
	if err := ValidateCanvasName(name); err != nil {
		return nil, err
	}
	cv, err := canvas.New(width, height, cooldown, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Canvases.Add(name, cv); err != nil {
		return nil, err
	}
	log.Printf("Created canvas %s (%dx%d, cooldown %s)", name, width, height, cooldown)
	return cv, nil
}

func (s *Service) IssueSessionKey(canvasName string) (string, error) {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return "", err
	}
	key, err := cv.NewKey()
	if err != nil {
		return "", err
	}
	metricKeysIssued.WithLabelValues(canvasName).Inc()
	return key, nil
}

func (s *Service) IssueUser(canvasName string, key string) (UserSession, error) {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return UserSession{}, err
	}
	userId, state, err := cv.NewUser(key)
	if err != nil {
		return UserSession{}, err
	}
	metricUsersIssued.WithLabelValues(canvasName).Inc()
	return UserSession{
		Id:       userId,
		Width:    state.Width,
		Height:   state.Height,
		Cooldown: state.Cooldown,
		Pixels:   state.Columns(),
	}, nil
}

// AuthenticateUser checks that userId is a live identity on the canvas.
func (s *Service) AuthenticateUser(canvasName string, userId string) error {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return err
	}
	if userId == "" || !cv.IsValidUser(userId) {
		return canvas.ErrUnauthorized
	}
	return nil
}

func (s *Service) GetDeltas(canvasName string, userId string) (DeltaResult, error) {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return DeltaResult{}, err
	}
	deltas, err := cv.Delta(userId)
	if err != nil {
		return DeltaResult{}, err
	}
	metricDeltaSize.Observe(float64(len(deltas)))

	width, height := cv.Dimensions()
	return DeltaResult{
		Id:       userId,
		Width:    width,
		Height:   height,
		Cooldown: cv.Cooldown(),
		Deltas:   deltas,
	}, nil
}

// SetPixel writes one pixel for userId. The archive, history cache and live
// broadcast are updated asynchronously and never change the result.
func (s *Service) SetPixel(canvasName string, userId string, x, y int, r, g, b int) error {
	cv, err := s.Canvases.Get(canvasName)
	if err != nil {
		return err
	}
	color, err := ValidateColor(r, g, b)
	if err != nil {
		metricPixelWrites.WithLabelValues(canvasName, "invalid").Inc()
		return err
	}

	if err := cv.Write(userId, x, y, color); err != nil {
		metricPixelWrites.WithLabelValues(canvasName, writeResult(err)).Inc()
		return err
	}
	metricPixelWrites.WithLabelValues(canvasName, "ok").Inc()

	atTime := time.Now()
	eventId, err := uuid.NewV7AtTime(atTime)
	if err != nil {
		log.Printf("Failed to generate pixel event id: %v", err)
		return nil
	}

	event := models.PixelEvent{
		Id:     eventId.String(),
		Canvas: canvasName,
		UserId: userId,
		X:      x,
		Y:      y,
		Color:  color,
		At:     atTime.UnixMilli(),
	}

	go s.publishPixelEvent(event)

	return nil
}

func (s *Service) publishPixelEvent(event models.PixelEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if s.PixelBatcher != nil {
		s.PixelBatcher.WriteCh <- event
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal pixel event %s: %v", event.Id, err)
		return
	}
	if err := s.Cache.AddPixelEvent(ctx, event.Canvas, event.Id, event.At, eventBytes); err != nil {
		log.Printf("Failed to cache pixel event %s: %v", event.Id, err)
	}

	msgBytes, err := json.Marshal(PixelSetMessage{Type: "pixel_set", Data: event})
	if err != nil {
		return
	}
	if err := s.Cache.Publish(ctx, CanvasChannel(event.Canvas), msgBytes); err != nil {
		log.Printf("Failed to publish pixel event %s: %v", event.Id, err)
	}
}

func writeResult(err error) string {
	switch {
	case errors.Is(err, canvas.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, canvas.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, canvas.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
