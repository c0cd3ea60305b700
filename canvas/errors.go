package canvas

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrOutOfBounds  = errors.New("pixel out of bounds")
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidSize  = errors.New("invalid canvas size")
)

// RateLimitedError is returned by Write when the user's cooldown has not
// elapsed yet. It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("cooldown not elapsed, need to wait %.3f seconds", e.Wait.Seconds())
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
