package convergence

import (
	"context"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"

	ferrors "FlightLink/internal/errors"
)

// LandSignals is everything that can show a vehicle is on the ground. Nil fields were not
// observed this tick.
type LandSignals struct {
	Armed       *bool
	LandedState common.MAV_LANDED_STATE
	// RangeM is the downward range finder distance
	RangeM *float64
	// RelativeAltM is the height above the takeoff reference, up positive
	RelativeAltM   *float64
	VerticalSpeedM *float64
}

// LandSource supplies land signals each poll.
type LandSource interface {
	LandSignals(ctx context.Context) (LandSignals, error)
}

type LandSourceFunc func(ctx context.Context) (LandSignals, error)

func (f LandSourceFunc) LandSignals(ctx context.Context) (LandSignals, error) {
	return f(ctx)
}

// LandDetector counts consecutive ticks where any ground signal holds. A disarmed
// heartbeat ends the wait at once.
type LandDetector struct {
	tol   Tolerances
	ticks int
}

func NewLandDetector(tol Tolerances) *LandDetector {
	if tol.LandedTicks < 1 {
		tol.LandedTicks = 1
	}
	return &LandDetector{tol: tol}
}

// Observe returns true once the vehicle counts as landed.
func (d *LandDetector) Observe(s LandSignals) bool {
	if s.Armed != nil && !*s.Armed {
		return true
	}
	if d.onGround(s) {
		d.ticks++
	} else {
		d.ticks = 0
	}
	return d.ticks >= d.tol.LandedTicks
}

func (d *LandDetector) onGround(s LandSignals) bool {
	if s.LandedState == common.MAV_LANDED_STATE_ON_GROUND {
		return true
	}
	if s.RangeM != nil && *s.RangeM <= d.tol.LandedHeight {
		return true
	}
	if s.RelativeAltM != nil && *s.RelativeAltM <= d.tol.LandedHeight {
		return s.VerticalSpeedM == nil || math.Abs(*s.VerticalSpeedM) <= d.tol.Velocity
	}
	return false
}

// WaitLanded polls src until the LandDetector reports landed or timeout elapses.
func (m *Monitor) WaitLanded(ctx context.Context, src LandSource, timeout time.Duration) error {
	det := NewLandDetector(m.tol)
	deadline := m.clock.Now().Add(timeout)
	for {
		s, err := src.LandSignals(ctx)
		if err != nil {
			m.logger.Debugf("land signals unavailable: %v", err)
		} else if det.Observe(s) {
			return nil
		}
		if !m.clock.Now().Before(deadline) {
			return errors.Wrapf(ferrors.ErrConvergenceTimeout, "not landed after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.tol.PollPeriod):
		}
	}
}
