package worker

import (
	"context"
	"log"
	"time"
)

// IdleSweeper removes identities idle for longer than maxIdle and reports
// how many users it dropped.
type IdleSweeper interface {
	EvictIdle(ctx context.Context, maxIdle time.Duration) int
}

type Evictor struct {
	sweeper  IdleSweeper
	interval time.Duration
	maxIdle  time.Duration
}

func NewEvictor(sweeper IdleSweeper, interval time.Duration, maxIdle time.Duration) *Evictor {
	return &Evictor{sweeper: sweeper, interval: interval, maxIdle: maxIdle}
}

func (e *Evictor) Run(shutdownCtx context.Context) {
	if e.interval <= 0 || e.maxIdle <= 0 {
		log.Printf("Idle eviction disabled")
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := e.sweeper.EvictIdle(shutdownCtx, e.maxIdle); n > 0 {
				log.Printf("Evicted %d idle users", n)
			}
		case <-shutdownCtx.Done():
			return
		}
	}
}
