package convergence

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/logging"
)

// PoseSource supplies fresh readings in the target's frame.
type PoseSource interface {
	Reading(ctx context.Context) (Reading, error)
}

// PoseSourceFunc adapts a function to PoseSource.
type PoseSourceFunc func(ctx context.Context) (Reading, error)

func (f PoseSourceFunc) Reading(ctx context.Context) (Reading, error) {
	return f(ctx)
}

// Result describes how a wait ended.
type Result struct {
	Converged  bool
	At         time.Time
	DwellStart time.Time
	Last       Reading
	Errors     Errors
}

// Monitor polls a source until a Tracker reports convergence.
type Monitor struct {
	clock  clock.Clock
	tol    Tolerances
	logger logging.Logger
}

func NewMonitor(clk clock.Clock, tol Tolerances, logger logging.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NewLogger("convergence")
	}
	if tol.PollPeriod <= 0 {
		tol.PollPeriod = 100 * time.Millisecond
	}
	return &Monitor{clock: clk, tol: tol, logger: logger}
}

func (m *Monitor) Tolerances() Tolerances {
	return m.tol
}

// Wait polls src every PollPeriod until the vehicle has stayed within tolerance of target
// for the dwell time. It returns ErrConvergenceTimeout once timeout has elapsed.
func (m *Monitor) Wait(ctx context.Context, src PoseSource, target Target, timeout time.Duration) (Result, error) {
	tracker := NewTracker(m.tol, target)
	start := m.clock.Now()
	deadline := start.Add(timeout)

	var res Result
	logEvery := int(time.Second / m.tol.PollPeriod)
	for tick := 0; ; tick++ {
		r, err := src.Reading(ctx)
		now := m.clock.Now()
		if err != nil {
			m.logger.Debugf("pose read failed: %v", err)
		} else {
			status := tracker.Observe(now, r)
			res.Last = r
			res.Errors = tracker.LastErrors()
			if logEvery > 0 && tick%logEvery == 0 {
				m.logger.Infow("converging",
					"status", status.String(),
					"pos_err", res.Errors.Position,
					"yaw_err", res.Errors.YawDeg,
					"vel", res.Errors.Velocity,
				)
			}
			if status == Converged {
				res.Converged = true
				res.At = now
				res.DwellStart, _ = tracker.DwellStart()
				return res, nil
			}
		}
		if !now.Before(deadline) {
			res.At = now
			return res, errors.Wrapf(ferrors.ErrConvergenceTimeout, "after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-m.clock.After(m.tol.PollPeriod):
		}
	}
}
