package service

import (
	"errors"
	"regexp"

	"github.com/zlnvch/pixelwars/models"
)

var (
	ErrCanvasNotFound    = errors.New("canvas not found")
	ErrCanvasExists      = errors.New("canvas already exists")
	ErrInvalidCanvasName = errors.New("invalid canvas name")
	ErrInvalidColor      = errors.New("color channels must be between 0 and 255")
)

// Canvas names end up in URL paths, Redis keys and DynamoDB partition keys
var canvasNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateCanvasName(name string) error {
	if !canvasNameRegex.MatchString(name) {
		return ErrInvalidCanvasName
	}
	return nil
}

func ValidateColor(r, g, b int) (models.RGB, error) {
	for _, ch := range []int{r, g, b} {
		if ch < 0 || ch > 255 {
			return models.RGB{}, ErrInvalidColor
		}
	}
	return models.RGB{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
}
