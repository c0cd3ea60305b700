package service

import (
	"sort"
	"sync"

	"github.com/zlnvch/pixelwars/canvas"
)

// Canvases maps canvas names to live canvases.
type Canvases struct {
	mu       sync.RWMutex
	canvases map[string]*canvas.Canvas
}

func NewCanvases() *Canvases {
	return &Canvases{canvases: make(map[string]*canvas.Canvas)}
}

func (c *Canvases) Add(name string, cv *canvas.Canvas) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.canvases[name]; ok {
		return ErrCanvasExists
	}
	c.canvases[name] = cv
	return nil
}

func (c *Canvases) Get(name string) (*canvas.Canvas, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cv, ok := c.canvases[name]
	if !ok {
		return nil, ErrCanvasNotFound
	}
	return cv, nil
}

// Names returns the registered canvas names, sorted.
func (c *Canvases) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.canvases))
	for name := range c.canvases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
