package driver

import (
	"math"
	"time"
)

// Clock holds the run start and the time of the previous event. Tick returns
// an updated copy instead of mutating shared state.
type Clock struct {
	Start time.Time
	Last  time.Time
}

// Stamp is the timing attached to one emitted record, in seconds rounded to
// one decimal.
type Stamp struct {
	T  float64
	DT float64
}

// NewClock starts a clock at start.
func NewClock(start time.Time) Clock {
	return Clock{Start: start, Last: start}
}

// Tick stamps an event observed at now and returns the advanced clock.
func (c Clock) Tick(now time.Time) (Stamp, Clock) {
	stamp := Stamp{
		T:  roundTenth(now.Sub(c.Start).Seconds()),
		DT: roundTenth(now.Sub(c.Last).Seconds()),
	}
	return stamp, Clock{Start: c.Start, Last: now}
}

// Elapsed is the rounded time since the run started.
func (c Clock) Elapsed(now time.Time) float64 {
	return roundTenth(now.Sub(c.Start).Seconds())
}

// roundTenth rounds to one decimal place, ties to even.
func roundTenth(seconds float64) float64 {
	return math.RoundToEven(seconds*10) / 10
}
