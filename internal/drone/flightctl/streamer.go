package flightctl

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	goutils "go.viam.com/utils"

	"FlightLink/internal/logging"
)

// Setpoint is a local NED position target with a heading in degrees.
type Setpoint struct {
	X, Y, Z float64
	YawDeg  float64
}

// setpointStreamer keeps re-sending the current target so PX4 stays in OFFBOARD.
// The caller updates the target at any time; one goroutine owns the sending.
type setpointStreamer struct {
	clock       clock.Clock
	logger      logging.Logger
	period      time.Duration
	stopTimeout time.Duration
	send        func(Setpoint) message.Message
	write       func(message.Message) error

	mu        sync.Mutex
	target    Setpoint
	hasTarget bool
	running   bool
	lastSend  time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

func newSetpointStreamer(
	clk clock.Clock,
	logger logging.Logger,
	rateHz float64,
	stopTimeout time.Duration,
	build func(Setpoint) message.Message,
	write func(message.Message) error,
) *setpointStreamer {
	return &setpointStreamer{
		clock:       clk,
		logger:      logger,
		period:      time.Duration(float64(time.Second) / rateHz),
		stopTimeout: stopTimeout,
		send:        build,
		write:       write,
	}
}

func (s *setpointStreamer) SetTarget(sp Setpoint) {
	s.mu.Lock()
	s.target = sp
	s.hasTarget = true
	s.mu.Unlock()
}

// Target returns the current target and whether one was ever set.
func (s *setpointStreamer) Target() (Setpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.hasTarget
}

func (s *setpointStreamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSend is the time of the most recent setpoint written.
func (s *setpointStreamer) LastSend() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSend
}

// Start launches the streaming goroutine unless it is already running.
func (s *setpointStreamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	goutils.PanicCapturingGo(func() { s.run(ctx, done) })
	s.logger.Info("setpoint streaming started")
}

// Stop cancels the goroutine and waits up to stopTimeout for it to exit. No setpoint is
// written once Stop returns.
func (s *setpointStreamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	timer := s.clock.Timer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("setpoint streaming stopped")
	case <-timer.C:
		s.logger.Warnf("setpoint streamer did not exit within %s", s.stopTimeout)
	}
}

func (s *setpointStreamer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()

	for {
		s.sendOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sendOnce writes the target while holding the lock, so a concurrent Stop either waits for
// the write or prevents it.
func (s *setpointStreamer) sendOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := s.write(s.send(s.target)); err != nil {
		s.logger.Debugf("setpoint write failed: %v", err)
		return
	}
	s.lastSend = s.clock.Now()
}
