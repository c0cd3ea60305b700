package dynamo

import (
	"strings"

	"github.com/zlnvch/pixelwars/models"
)

const (
	pixelPKPrefix  = "PIXEL#"
	canvasPKPrefix = "CANVAS#"
	canvasStatsSK  = "STATS"
)

type dynamoPixelEvent struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserId string `dynamodbav:"UserId"`
	X      int    `dynamodbav:"X"`
	Y      int    `dynamodbav:"Y"`
	R      uint8  `dynamodbav:"R"`
	G      uint8  `dynamodbav:"G"`
	B      uint8  `dynamodbav:"B"`
	At     int64  `dynamodbav:"At"`
}

// Map domain PixelEvent -> Dynamo
func pixelEventToDynamo(e models.PixelEvent) dynamoPixelEvent {
	return dynamoPixelEvent{
		PK:     pixelPKPrefix + e.Canvas,
		SK:     e.Id,
		UserId: e.UserId,
		X:      e.X,
		Y:      e.Y,
		R:      e.Color.R,
		G:      e.Color.G,
		B:      e.Color.B,
		At:     e.At,
	}
}

// Map Dynamo -> domain PixelEvent
func pixelEventFromDynamo(de dynamoPixelEvent) models.PixelEvent {
	return models.PixelEvent{
		Id:     de.SK,
		Canvas: strings.TrimPrefix(de.PK, pixelPKPrefix),
		UserId: de.UserId,
		X:      de.X,
		Y:      de.Y,
		Color:  models.RGB{R: de.R, G: de.G, B: de.B},
		At:     de.At,
	}
}

type dynamoCanvasStats struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	WriteCount int    `dynamodbav:"WriteCount"`
}

func canvasStatsFromDynamo(ds dynamoCanvasStats) models.CanvasStats {
	return models.CanvasStats{
		Canvas:     strings.TrimPrefix(ds.PK, canvasPKPrefix),
		WriteCount: ds.WriteCount,
	}
}
