package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/tepilora/newsradar/internal/observability"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after a run of consecutive failures and stays open for the
// cooldown. After the cooldown a single probe call is let through; its
// outcome decides whether the breaker closes again or re-opens.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	state       BreakerState
	consecutive int
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only the
// first caller gets through until the probe outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probing = false
	b.state = StateClosed
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Failed probe, back to open with a fresh cooldown.
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
		return
	}

	b.consecutive++
	if b.consecutive >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet keeps one breaker per source so a flapping feed cannot
// block fetches from the healthy ones.
type BreakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
	logger    *observability.Logger
}

func NewBreakerSet(threshold int, cooldown time.Duration, logger *observability.Logger) *BreakerSet {
	return &BreakerSet{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
	}
}

func (s *BreakerSet) For(source string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[source]
	if !ok {
		b = NewBreaker(s.threshold, s.cooldown)
		s.breakers[source] = b
	}
	return b
}

// States returns a snapshot of every known breaker for status reporting.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]BreakerState, len(s.breakers))
	for source, b := range s.breakers {
		states[source] = b.State()
	}
	return states
}
