package models

import (
	"encoding/json"
	"fmt"
)

// RGB is a single canvas cell. It travels on the wire as [r, g, b].
type RGB struct {
	R uint8
	G uint8
	B uint8
}

func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]uint8{c.R, c.G, c.B})
}

func (c *RGB) UnmarshalJSON(data []byte) error {
	var v [3]uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.R, c.G, c.B = v[0], v[1], v[2]
	return nil
}

// Pixel is a changed cell as reported by delta sync: [x, y, r, g, b].
type Pixel struct {
	X     int
	Y     int
	Color RGB
}

func (p Pixel) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]int{p.X, p.Y, int(p.Color.R), int(p.Color.G), int(p.Color.B)})
}

func (p *Pixel) UnmarshalJSON(data []byte) error {
	var v [5]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	for _, ch := range v[2:] {
		if ch < 0 || ch > 255 {
			return fmt.Errorf("channel value %d out of range", ch)
		}
	}
	p.X, p.Y = v[0], v[1]
	p.Color = RGB{R: uint8(v[2]), G: uint8(v[3]), B: uint8(v[4])}
	return nil
}

// PixelEvent is an accepted write, archived for history.
type PixelEvent struct {
	Id     string `json:"id"`
	Canvas string `json:"canvas"`
	UserId string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Color  RGB    `json:"color"`
	At     int64  `json:"at"`
}

type CanvasStats struct {
	Canvas     string
	WriteCount int
}
