package export

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mastercard",
	Subsystem: "export",
	Name:      "breaker_transitions_total",
	Help:      "Sink circuit breaker transitions by emission path and new state.",
}, []string{"path", "to_state"})

func init() {
	prometheus.MustRegister(breakerTransitions)
}

type breakerState int

const (
	breakerClosed   breakerState = iota // sink healthy, emissions flow
	breakerOpen                         // sink down, emissions shed without attempts
	breakerHalfOpen                     // one probe emission in flight
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// sinkBreaker guards one emission path against a persistently failing sink.
// Once threshold consecutive emissions fail the path opens and work is shed
// without touching the sink; after openFor a single probe is let through,
// and its outcome decides between closing and reopening.
type sinkBreaker struct {
	path      string // labels the transition metric
	threshold int
	openFor   time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newSinkBreaker(path string, threshold int, openFor time.Duration) *sinkBreaker {
	return &sinkBreaker{path: path, threshold: threshold, openFor: openFor}
}

// allow reports whether the next emission on this path may reach the sink.
func (b *sinkBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.openFor {
			b.transition(breakerHalfOpen)
			return true
		}
		return false
	case breakerHalfOpen:
		// A probe is already out; shed until it settles.
		return false
	default:
		return true
	}
}

// success resets the path after an emission went through.
func (b *sinkBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.transition(breakerClosed)
	}
	b.failures = 0
}

// failure counts a failed emission and opens the path at the threshold.
func (b *sinkBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == breakerHalfOpen || (b.state == breakerClosed && b.failures >= b.threshold) {
		b.openedAt = time.Now()
		b.transition(breakerOpen)
	}
}

// transition changes state and counts it. Caller holds b.mu.
func (b *sinkBreaker) transition(to breakerState) {
	if b.state == to {
		return
	}
	b.state = to
	breakerTransitions.WithLabelValues(b.path, to.String()).Inc()
}
