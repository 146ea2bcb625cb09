// Package clock provides the monotonic time source the link layer's
// protocols compare deadlines against, plus a simulated variant TDM's slave
// side adjusts.
package clock

import "time"

// Clock is a monotonic source of time in seconds, with a slave-side
// adjustment hook used by TDM sync reception.
type Clock interface {
	// Time returns the current time in seconds.
	Time() float64
	// SetTime adjusts the clock, used only by a TDM slave applying a sync
	// packet.
	SetTime(t float64)
}

// Real wraps the process's monotonic clock, offset so SetTime can still
// shift it without touching actual wall time.
type Real struct {
	start  time.Time
	offset float64
}

func NewReal() *Real {
	return &Real{start: time.Now()}
}

func (c *Real) Time() float64 {
	return time.Since(c.start).Seconds() + c.offset
}

func (c *Real) SetTime(t float64) {
	c.offset = t - time.Since(c.start).Seconds()
}

// Simulated is a tick-driven clock for deterministic tests: time advances
// only when Advance is called, and runs at ticksPerSec.
type Simulated struct {
	ticks       int64
	ticksPerSec float64
}

func NewSimulated(ticksPerSec float64) *Simulated {
	return &Simulated{ticksPerSec: ticksPerSec}
}

func (c *Simulated) Time() float64 {
	return float64(c.ticks) / c.ticksPerSec
}

func (c *Simulated) SetTime(t float64) {
	c.ticks = int64(c.ticksPerSec * t)
}

// Advance moves the clock forward by n ticks.
func (c *Simulated) Advance(n int64) {
	c.ticks += n
}
