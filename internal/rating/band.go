package rating

import (
	"math"
	"time"
)

// Selector maps a rating and a wait time onto the opponent band a ticket
// will accept. The band starts at Initial either side of the rating and grows
// by Step every StepEvery. From MaxWait on the band is unbounded.
type Selector struct {
	Initial   int
	Step      int
	StepEvery time.Duration
	MaxWait   time.Duration
}

func DefaultSelector() Selector {
	return Selector{
		Initial:   200,
		Step:      100,
		StepEvery: 5 * time.Second,
		MaxWait:   60 * time.Second,
	}
}

type Band struct {
	Min int
	Max int
}

func (b Band) Contains(r int) bool { return r >= b.Min && r <= b.Max }

func (s Selector) Width(wait time.Duration) int {
	if wait < 0 {
		wait = 0
	}
	if s.MaxWait > 0 && wait >= s.MaxWait {
		return math.MaxInt32
	}
	w := s.Initial
	if s.StepEvery > 0 {
		w += s.Step * int(wait/s.StepEvery)
	}
	return w
}

func (s Selector) Band(r int, wait time.Duration) Band {
	w := s.Width(wait)
	if w >= math.MaxInt32 {
		return Band{Min: math.MinInt32, Max: math.MaxInt32}
	}
	return Band{Min: r - w, Max: r + w}
}

// Compatible reports whether each rating lies inside the other's band.
func (s Selector) Compatible(ra int, waitA time.Duration, rb int, waitB time.Duration) bool {
	return s.Band(ra, waitA).Contains(rb) && s.Band(rb, waitB).Contains(ra)
}
