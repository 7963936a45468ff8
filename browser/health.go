package browser

import (
	"math"
	"sync"
	"time"
)

// Retirement thresholds for pooled pages. A page that keeps failing
// provider runs, or has served long enough to accumulate state from the
// provider site, is closed instead of going back to the pool.
const (
	retireErrScore = 3.0
	retireUses     = 50
	retireAge      = 50 * time.Minute
)

// pageHealth scores one pooled page.
//
//   - success: errScore -= 0.5 (min 0)
//   - failure: errScore += 1.0
type pageHealth struct {
	mu       sync.Mutex
	errScore float64
	uses     int
	created  time.Time
}

func newPageHealth(now time.Time) *pageHealth {
	return &pageHealth{created: now}
}

func (h *pageHealth) record(failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uses++
	if failed {
		h.errScore += 1.0
		return
	}
	h.errScore = math.Max(0, h.errScore-0.5)
}

func (h *pageHealth) shouldRetire(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errScore >= retireErrScore ||
		h.uses >= retireUses ||
		now.Sub(h.created) >= retireAge
}
