package canvas

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/pixelwars/models"
)

// State is a point-in-time copy of a canvas grid.
// Pixels are stored row-major: index y*Width + x.
type State struct {
	Width    int
	Height   int
	Cooldown time.Duration
	Pixels   []models.RGB
}

func (s State) At(x, y int) models.RGB {
	return s.Pixels[y*s.Width+x]
}

// Columns returns the grid as data[x][y], the layout used on the wire.
func (s State) Columns() [][]models.RGB {
	cols := make([][]models.RGB, s.Width)
	for x := 0; x < s.Width; x++ {
		cols[x] = make([]models.RGB, s.Height)
		for y := 0; y < s.Height; y++ {
			cols[x][y] = s.Pixels[y*s.Width+x]
		}
	}
	return cols
}

type userState struct {
	mu          sync.Mutex
	snapshot    []models.RGB
	lastWriteAt time.Time
	lastSeenAt  time.Time
}

// Canvas is a shared pixel grid with per-user snapshots and a write cooldown.
//
// Lock order: regMu, then mu, then a user's mu.
type Canvas struct {
	width    int
	height   int
	cooldown time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	grid []models.RGB

	regMu sync.Mutex
	keys  map[string]time.Time
	users map[string]*userState
}

type Option func(*Canvas)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Canvas) {
		c.now = now
	}
}

func New(width, height int, cooldown time.Duration, opts ...Option) (*Canvas, error) {
	if width <= 0 || height <= 0 || cooldown < 0 {
		return nil, ErrInvalidSize
	}

	c := &Canvas{
		width:    width,
		height:   height,
		cooldown: cooldown,
		now:      time.Now,
		grid:     make([]models.RGB, width*height),
		keys:     make(map[string]time.Time),
		users:    make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Canvas) Dimensions() (int, int) {
	return c.width, c.height
}

func (c *Canvas) Cooldown() time.Duration {
	return c.cooldown
}

// Counts returns the number of live users and unconsumed session keys.
func (c *Canvas) Counts() (users int, keys int) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return len(c.users), len(c.keys)
}

func (c *Canvas) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Canvas) stateLocked() State {
	pixels := make([]models.RGB, len(c.grid))
	copy(pixels, c.grid)
	return State{Width: c.width, Height: c.height, Cooldown: c.cooldown, Pixels: pixels}
}

func (c *Canvas) NewKey() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	key := id.String()

	c.regMu.Lock()
	c.keys[key] = c.now()
	c.regMu.Unlock()
	return key, nil
}

func (c *Canvas) IsValidKey(key string) bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	_, ok := c.keys[key]
	return ok
}

func (c *Canvas) IsValidUser(userId string) bool {
	_, ok := c.lookupUser(userId)
	return ok
}

// NewUser consumes a session key and mints a user identity whose snapshot
// is the current grid. Keys are single-use.
func (c *Canvas) NewUser(key string) (string, State, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", State{}, err
	}
	userId := id.String()

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if _, ok := c.keys[key]; !ok {
		return "", State{}, ErrUnauthorized
	}
	delete(c.keys, key)

	c.mu.RLock()
	state := c.stateLocked()
	c.mu.RUnlock()

	now := c.now()
	snapshot := make([]models.RGB, len(state.Pixels))
	copy(snapshot, state.Pixels)
	c.users[userId] = &userState{
		snapshot:    snapshot,
		lastWriteAt: now,
		lastSeenAt:  now,
	}

	return userId, state, nil
}

func (c *Canvas) lookupUser(userId string) (*userState, bool) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	u, ok := c.users[userId]
	return u, ok
}

func (c *Canvas) inBounds(x, y int) bool {
	return x >= 0 && x < c.width && y >= 0 && y < c.height
}

// Write sets one pixel on behalf of a user. On success the writer's own
// snapshot is advanced to the whole grid, so its next Delta does not report
// its own write back.
func (c *Canvas) Write(userId string, x, y int, color models.RGB) error {
	if !c.inBounds(x, y) {
		return ErrOutOfBounds
	}

	u, ok := c.lookupUser(userId)
	if !ok {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	u.mu.Lock()
	defer u.mu.Unlock()

	now := c.now()
	if wait := cooldownWait(u.lastWriteAt, now, c.cooldown); wait > 0 {
		return &RateLimitedError{Wait: wait}
	}

	c.grid[y*c.width+x] = color
	copy(u.snapshot, c.grid)
	u.lastWriteAt = now
	u.lastSeenAt = now
	return nil
}

// Delta returns every cell that differs between the grid and the user's
// snapshot, scanning row by row, then advances the snapshot.
func (c *Canvas) Delta(userId string) ([]models.Pixel, error) {
	u, ok := c.lookupUser(userId)
	if !ok {
		return nil, ErrUnauthorized
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	u.mu.Lock()
	defer u.mu.Unlock()

	deltas := []models.Pixel{}
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			i := y*c.width + x
			if c.grid[i] != u.snapshot[i] {
				deltas = append(deltas, models.Pixel{X: x, Y: y, Color: c.grid[i]})
			}
		}
	}
	copy(u.snapshot, c.grid)
	u.lastSeenAt = c.now()

	return deltas, nil
}

// LastWriteAt reports when the user's last write was accepted (issuance
// time if it never wrote).
func (c *Canvas) LastWriteAt(userId string) (time.Time, error) {
	u, ok := c.lookupUser(userId)
	if !ok {
		return time.Time{}, ErrUnauthorized
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastWriteAt, nil
}

// EvictIdle removes users not seen for maxIdle and session keys issued
// longer ago than that, measured on the canvas clock. It returns the evicted
// user ids and the number of dropped keys.
func (c *Canvas) EvictIdle(maxIdle time.Duration) ([]string, int) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	cutoff := c.now().Add(-maxIdle)

	droppedKeys := 0
	for key, issuedAt := range c.keys {
		if issuedAt.Before(cutoff) {
			delete(c.keys, key)
			droppedKeys++
		}
	}

	evicted := []string{}
	for userId, u := range c.users {
		u.mu.Lock()
		idle := u.lastSeenAt.Before(cutoff)
		u.mu.Unlock()
		if idle {
			delete(c.users, userId)
			evicted = append(evicted, userId)
		}
	}

	return evicted, droppedKeys
}
