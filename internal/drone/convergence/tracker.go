// Package convergence decides when a vehicle has arrived: close enough to the target,
// pointing the right way and nearly still, continuously for a dwell period. Inner and outer
// bands give the decision hysteresis so sensor noise at the edge does not restart the dwell.
package convergence

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"FlightLink/internal/common"
	"FlightLink/internal/config"
)

// Tolerances are the inner bands and the outer bands that reset the dwell.
type Tolerances struct {
	Position      float64
	PositionOuter float64
	YawDeg        float64
	YawOuter      float64
	Velocity      float64
	VelocityOuter float64

	Dwell          time.Duration
	PollPeriod     time.Duration
	VelocityWindow int

	LandedTicks  int
	LandedHeight float64
}

// FromConfig builds tolerances with outer bands at inner plus hysteresis.
func FromConfig(c config.ConvergenceConfig) Tolerances {
	return Tolerances{
		Position:       c.PositionTolerance,
		PositionOuter:  c.PositionTolerance + c.PositionHysteresis,
		YawDeg:         c.YawTolerance,
		YawOuter:       c.YawTolerance + c.YawHysteresis,
		Velocity:       c.VelocityTolerance,
		VelocityOuter:  c.VelocityTolerance + c.VelocityHysteresis,
		Dwell:          c.Dwell.D(),
		PollPeriod:     c.PollPeriod.D(),
		VelocityWindow: c.VelocityWindow,
		LandedTicks:    c.LandedTicks,
		LandedHeight:   c.LandedHeight,
	}
}

// Target is where the vehicle should settle. A nil YawDeg ignores heading. VerticalOnly
// compares altitude alone, as takeoff does.
type Target struct {
	Position     r3.Vector
	YawDeg       *float64
	VerticalOnly bool
}

// Reading is one pose sample in the same frame as the target.
type Reading struct {
	Position r3.Vector
	YawDeg   float64
}

// Status is the tracker's verdict after a sample.
type Status int

const (
	Outside Status = iota
	Settling
	Converged
)

func (s Status) String() string {
	switch s {
	case Outside:
		return "outside"
	case Settling:
		return "settling"
	case Converged:
		return "converged"
	default:
		return "unknown"
	}
}

type sample struct {
	at  time.Time
	pos r3.Vector
}

// Errors are the distances from the target computed for one sample. Velocity is negative
// until the window holds two samples.
type Errors struct {
	Position float64
	YawDeg   float64
	Velocity float64
}

// Tracker runs the dwell state machine for a single move.
type Tracker struct {
	tol    Tolerances
	target Target

	window     []sample
	dwellStart time.Time
	dwelling   bool
	last       Errors
}

func NewTracker(tol Tolerances, target Target) *Tracker {
	if tol.VelocityWindow < 2 {
		tol.VelocityWindow = 2
	}
	return &Tracker{tol: tol, target: target}
}

// DwellStart is when the current run of in-tolerance samples began.
func (t *Tracker) DwellStart() (time.Time, bool) {
	return t.dwellStart, t.dwelling
}

// LastErrors returns the errors of the most recent sample.
func (t *Tracker) LastErrors() Errors {
	return t.last
}

// Observe feeds one sample taken at at.
func (t *Tracker) Observe(at time.Time, r Reading) Status {
	t.window = append(t.window, sample{at: at, pos: r.Position})
	if len(t.window) > t.tol.VelocityWindow {
		t.window = t.window[len(t.window)-t.tol.VelocityWindow:]
	}

	errs := Errors{
		Position: t.positionError(r.Position),
		Velocity: t.velocity(),
	}
	if t.target.YawDeg != nil {
		errs.YawDeg = common.AngleError(r.YawDeg, *t.target.YawDeg)
	}
	t.last = errs
	velocityKnown := errs.Velocity >= 0

	inner := errs.Position <= t.tol.Position &&
		errs.YawDeg <= t.tol.YawDeg &&
		velocityKnown && errs.Velocity <= t.tol.Velocity
	outer := errs.Position > t.tol.PositionOuter ||
		errs.YawDeg > t.tol.YawOuter ||
		(velocityKnown && errs.Velocity > t.tol.VelocityOuter)

	switch {
	case inner:
		if !t.dwelling {
			t.dwelling = true
			t.dwellStart = at
		}
		if at.Sub(t.dwellStart) >= t.tol.Dwell {
			return Converged
		}
		return Settling
	case outer:
		t.dwelling = false
		t.dwellStart = time.Time{}
		return Outside
	default:
		if t.dwelling {
			return Settling
		}
		return Outside
	}
}

func (t *Tracker) positionError(p r3.Vector) float64 {
	if t.target.VerticalOnly {
		return math.Abs(p.Z - t.target.Position.Z)
	}
	return p.Sub(t.target.Position).Norm()
}

// velocity is the mean speed across the window, or -1 when it cannot be estimated.
func (t *Tracker) velocity() float64 {
	if len(t.window) < 2 {
		return -1
	}
	first, last := t.window[0], t.window[len(t.window)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return -1
	}
	d := last.pos.Sub(first.pos)
	if t.target.VerticalOnly {
		return math.Abs(d.Z) / dt
	}
	return d.Norm() / dt
}
