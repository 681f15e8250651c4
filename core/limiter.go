package core

import (
	"fmt"
	"sync"
)

// ModelLimiter caps the number of model invocations shared by all branches of
// one delegation chain. It is safe for concurrent use.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a new limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Increment reserves one call. It returns an error wrapping ErrBudgetExhausted
// once the limit is exceeded; the failed reservation is not counted.
func (ml *ModelLimiter) Increment() error {
	if ml == nil {
		return nil
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max > 0 && ml.count >= ml.max {
		return fmt.Errorf("%w: %d invocations", ErrBudgetExhausted, ml.max)
	}
	ml.count++

	return nil
}

// Count returns the current number of calls made.
func (ml *ModelLimiter) Count() int {
	if ml == nil {
		return 0
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	if ml == nil {
		return -1
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max == 0 {
		return -1
	}

	return ml.max - ml.count
}
