package browser

import "sync"

// Signal sources reported on a Candidate.
const (
	SourceResponse = "response"
	SourceAsset    = "asset"
)

// Candidate is a result location reported by one of a session's listeners.
type Candidate struct {
	URL    string
	Source string
}

// Latch accepts at most one Candidate. The first Offer wins and deactivates
// every other listener in the same critical section, so a slower signal can
// never produce a second result.
type Latch struct {
	mu     sync.Mutex
	active bool
	ch     chan Candidate
}

// NewLatch returns an open latch.
func NewLatch() *Latch {
	return &Latch{active: true, ch: make(chan Candidate, 1)}
}

// Offer proposes c. It reports whether c was accepted.
func (l *Latch) Offer(c Candidate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return false
	}
	l.active = false
	l.ch <- c
	return true
}

// Done delivers the accepted candidate.
func (l *Latch) Done() <-chan Candidate {
	return l.ch
}

// Seal deactivates the latch. If a candidate was accepted but not yet
// received from Done, it is returned.
func (l *Latch) Seal() (Candidate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	select {
	case c := <-l.ch:
		return c, true
	default:
		return Candidate{}, false
	}
}
