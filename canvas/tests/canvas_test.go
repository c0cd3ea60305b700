package canvas_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pixelwars/canvas"
	"github.com/zlnvch/pixelwars/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newCanvas(t *testing.T, width, height int, cooldown time.Duration) (*canvas.Canvas, *fakeClock) {
	clock := newFakeClock()
	c, err := canvas.New(width, height, cooldown, canvas.WithClock(clock.Now))
	require.NoError(t, err)
	return c, clock
}

func newUser(t *testing.T, c *canvas.Canvas) string {
	key, err := c.NewKey()
	require.NoError(t, err)
	userId, _, err := c.NewUser(key)
	require.NoError(t, err)
	return userId
}

var red = models.RGB{R: 255}

func TestNew_InvalidSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		cooldown      time.Duration
	}{
		{"Zero Width", 0, 10, time.Second},
		{"Negative Height", 10, -1, time.Second},
		{"Negative Cooldown", 10, 10, -time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := canvas.New(tc.width, tc.height, tc.cooldown)
			assert.ErrorIs(t, err, canvas.ErrInvalidSize)
			assert.Nil(t, c)
		})
	}
}

func TestNew_InitialGridIsBlack(t *testing.T) {
	c, _ := newCanvas(t, 3, 2, 0)

	state := c.State()
	assert.Equal(t, 3, state.Width)
	assert.Equal(t, 2, state.Height)
	assert.Len(t, state.Pixels, 6)
	for _, p := range state.Pixels {
		assert.Equal(t, models.RGB{}, p)
	}
}

func TestNewKey_IsValid(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	key, err := c.NewKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.True(t, c.IsValidKey(key))
	assert.False(t, c.IsValidKey("not-a-key"))

	other, err := c.NewKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestNewUser_UnknownKey(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	_, _, err := c.NewUser("bogus")
	assert.ErrorIs(t, err, canvas.ErrUnauthorized)
}

func TestNewUser_KeyIsSingleUse(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	key, err := c.NewKey()
	require.NoError(t, err)

	userId, _, err := c.NewUser(key)
	require.NoError(t, err)
	assert.True(t, c.IsValidUser(userId))
	assert.False(t, c.IsValidKey(key))

	_, _, err = c.NewUser(key)
	assert.ErrorIs(t, err, canvas.ErrUnauthorized)
}

func TestNewUser_ConcurrentConsumption(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)
	key, err := c.NewKey()
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.NewUser(key); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	users, keys := c.Counts()
	assert.Equal(t, 1, users)
	assert.Equal(t, 0, keys)
}

func TestNewUser_SnapshotIsCurrentGrid(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)
	writer := newUser(t, c)
	require.NoError(t, c.Write(writer, 1, 0, red))

	key, err := c.NewKey()
	require.NoError(t, err)
	_, state, err := c.NewUser(key)
	require.NoError(t, err)

	assert.Equal(t, red, state.At(1, 0))
	assert.Equal(t, [][]models.RGB{{{}, {}}, {red, {}}}, state.Columns())
}

func TestWrite_OutOfBounds(t *testing.T) {
	c, _ := newCanvas(t, 3, 2, 0)
	userId := newUser(t, c)

	coords := [][2]int{{3, 0}, {0, 2}, {-1, 0}, {0, -1}, {100, 100}}
	for _, xy := range coords {
		t.Run(fmt.Sprintf("%d,%d", xy[0], xy[1]), func(t *testing.T) {
			err := c.Write(userId, xy[0], xy[1], red)
			assert.ErrorIs(t, err, canvas.ErrOutOfBounds)
		})
	}

	for _, p := range c.State().Pixels {
		assert.Equal(t, models.RGB{}, p)
	}
}

func TestWrite_UnknownUser(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	err := c.Write("nobody", 0, 0, red)
	assert.ErrorIs(t, err, canvas.ErrUnauthorized)
	assert.Equal(t, models.RGB{}, c.State().At(0, 0))
}

func TestWrite_BoundsCheckedBeforeUser(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	err := c.Write("nobody", 5, 5, red)
	assert.ErrorIs(t, err, canvas.ErrOutOfBounds)
}

func TestWrite_RateLimited(t *testing.T) {
	c, clock := newCanvas(t, 2, 2, 10*time.Second)
	userId := newUser(t, c)

	// Issuance counts as the last write
	clock.Advance(3 * time.Second)
	err := c.Write(userId, 0, 0, red)
	require.ErrorIs(t, err, canvas.ErrRateLimited)

	var rl *canvas.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.InDelta(t, float64(7*time.Second), float64(rl.Wait), float64(time.Millisecond))
	assert.Equal(t, models.RGB{}, c.State().At(0, 0))

	clock.Advance(8 * time.Second)
	assert.NoError(t, c.Write(userId, 0, 0, red))
	assert.Equal(t, red, c.State().At(0, 0))
}

func TestWrite_RejectedWriteDoesNotResetCooldown(t *testing.T) {
	c, clock := newCanvas(t, 2, 2, 10*time.Second)
	userId := newUser(t, c)

	clock.Advance(11 * time.Second)
	require.NoError(t, c.Write(userId, 0, 0, red))
	writtenAt := clock.Now()

	clock.Advance(4 * time.Second)
	assert.ErrorIs(t, c.Write(userId, 1, 0, red), canvas.ErrRateLimited)

	clock.Advance(4 * time.Second)
	err := c.Write(userId, 1, 0, red)
	var rl *canvas.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.InDelta(t, float64(2*time.Second), float64(rl.Wait), float64(time.Millisecond))

	clock.Advance(3 * time.Second)
	assert.NoError(t, c.Write(userId, 1, 0, red))

	lastWrite, err := c.LastWriteAt(userId)
	require.NoError(t, err)
	assert.Equal(t, writtenAt.Add(11*time.Second), lastWrite)
}

func TestWrite_AcceptedExactlyAtCooldown(t *testing.T) {
	cooldowns := []time.Duration{
		49 * time.Second,
		4900 * time.Millisecond,
		300 * time.Millisecond,
		1700 * time.Millisecond,
		time.Second + time.Nanosecond,
	}

	for _, cd := range cooldowns {
		t.Run(cd.String(), func(t *testing.T) {
			c, clock := newCanvas(t, 2, 2, cd)
			userId := newUser(t, c)

			clock.Advance(cd - time.Nanosecond)
			err := c.Write(userId, 0, 0, red)
			var rl *canvas.RateLimitedError
			require.True(t, errors.As(err, &rl))
			assert.Equal(t, time.Nanosecond, rl.Wait)

			// From issuance
			clock.Advance(time.Nanosecond)
			require.NoError(t, c.Write(userId, 0, 0, red))

			// From the last accepted write
			clock.Advance(cd)
			require.NoError(t, c.Write(userId, 1, 0, red))
		})
	}
}

func TestWrite_CooldownIsPerUser(t *testing.T) {
	c, clock := newCanvas(t, 2, 2, 10*time.Second)
	a := newUser(t, c)
	clock.Advance(11 * time.Second)
	b := newUser(t, c)

	assert.NoError(t, c.Write(a, 0, 0, red))
	assert.ErrorIs(t, c.Write(b, 1, 1, red), canvas.ErrRateLimited)
}

func TestDelta_UnknownUser(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)

	_, err := c.Delta("nobody")
	assert.ErrorIs(t, err, canvas.ErrUnauthorized)
}

// 2x2 canvas, no cooldown: a writer does not see its own write, another
// user sees it exactly once.
func TestDelta_TwoUserScenario(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)
	a := newUser(t, c)
	b := newUser(t, c)

	require.NoError(t, c.Write(a, 0, 0, red))

	deltasA, err := c.Delta(a)
	require.NoError(t, err)
	assert.Empty(t, deltasA)
	assert.NotNil(t, deltasA)

	deltasB, err := c.Delta(b)
	require.NoError(t, err)
	assert.Equal(t, []models.Pixel{{X: 0, Y: 0, Color: red}}, deltasB)

	deltasB, err = c.Delta(b)
	require.NoError(t, err)
	assert.Empty(t, deltasB)
}

func TestDelta_CompleteAndRowMajor(t *testing.T) {
	c, _ := newCanvas(t, 3, 3, 0)
	writer := newUser(t, c)
	reader := newUser(t, c)

	blue := models.RGB{B: 200}
	require.NoError(t, c.Write(writer, 2, 0, red))
	require.NoError(t, c.Write(writer, 0, 2, red))
	require.NoError(t, c.Write(writer, 1, 1, red))
	// overwritten cell is reported once, with its latest value
	require.NoError(t, c.Write(writer, 2, 0, blue))

	deltas, err := c.Delta(reader)
	require.NoError(t, err)
	assert.Equal(t, []models.Pixel{
		{X: 2, Y: 0, Color: blue},
		{X: 1, Y: 1, Color: red},
		{X: 0, Y: 2, Color: red},
	}, deltas)
}

func TestDelta_WriteBackToOriginalIsNotReported(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)
	writer := newUser(t, c)
	reader := newUser(t, c)

	require.NoError(t, c.Write(writer, 0, 0, red))
	require.NoError(t, c.Write(writer, 0, 0, models.RGB{}))

	deltas, err := c.Delta(reader)
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestDelta_SelfWriteSuppressedButForeignWritesKept(t *testing.T) {
	c, _ := newCanvas(t, 2, 2, 0)
	a := newUser(t, c)
	b := newUser(t, c)

	require.NoError(t, c.Write(b, 1, 1, red))
	require.NoError(t, c.Write(a, 0, 0, red))

	// a's write refreshed a's snapshot to the whole grid, including b's cell
	deltas, err := c.Delta(a)
	require.NoError(t, err)
	assert.Empty(t, deltas)

	deltas, err = c.Delta(b)
	require.NoError(t, err)
	assert.Equal(t, []models.Pixel{{X: 0, Y: 0, Color: red}}, deltas)
}

func TestWrite_ConcurrentWritersDistinctCells(t *testing.T) {
	const size = 16
	c, _ := newCanvas(t, size, size, 0)
	reader := newUser(t, c)

	var wg sync.WaitGroup
	errs := make(chan error, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			userId := newUser(t, c)
			wg.Add(1)
			go func(x, y int) {
				defer wg.Done()
				color := models.RGB{R: uint8(x), G: uint8(y), B: 1}
				errs <- c.Write(userId, x, y, color)
			}(x, y)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	state := c.State()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			assert.Equal(t, models.RGB{R: uint8(x), G: uint8(y), B: 1}, state.At(x, y))
		}
	}

	deltas, err := c.Delta(reader)
	require.NoError(t, err)
	assert.Len(t, deltas, size*size)
}

func TestDelta_ConcurrentWithWriters(t *testing.T) {
	const size = 8
	c, _ := newCanvas(t, size, size, 0)
	reader := newUser(t, c)

	writers := make([]string, size)
	for i := range writers {
		writers[i] = newUser(t, c)
	}

	seen := make(map[[2]int]int)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i, userId := range writers {
		wg.Add(1)
		go func(row int, userId string) {
			defer wg.Done()
			for x := 0; x < size; x++ {
				assert.NoError(t, c.Write(userId, x, row, red))
			}
		}(i, userId)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		deltas, err := c.Delta(reader)
		require.NoError(t, err)
		for _, p := range deltas {
			seen[[2]int{p.X, p.Y}]++
		}
	}

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			collect()
		}
	}
	collect()

	assert.Len(t, seen, size*size)
	for cell, n := range seen {
		assert.Equal(t, 1, n, "cell %v reported more than once", cell)
	}
}

func TestEvictIdle(t *testing.T) {
	c, clock := newCanvas(t, 2, 2, 0)

	stale := newUser(t, c)
	staleKey, err := c.NewKey()
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	active := newUser(t, c)
	clock.Advance(20 * time.Minute)
	_, err = c.Delta(stale)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	freshKey, err := c.NewKey()
	require.NoError(t, err)

	// max idle 30 minutes: stale was seen 20 minutes ago, active 40 minutes ago
	evicted, droppedKeys := c.EvictIdle(30 * time.Minute)
	assert.Equal(t, []string{active}, evicted)
	assert.Equal(t, 1, droppedKeys)

	assert.True(t, c.IsValidUser(stale))
	assert.False(t, c.IsValidUser(active))
	assert.False(t, c.IsValidKey(staleKey))
	assert.True(t, c.IsValidKey(freshKey))

	assert.ErrorIs(t, c.Write(active, 0, 0, red), canvas.ErrUnauthorized)
}
