package drone

import (
	"context"
	"time"
)

// Mission is an ordered list of waypoints flown at one speed.
type Mission struct {
	waypoints  []*WayPoint
	speed      float64
	vehicle    string
	legTimeout *time.Duration
}

func NewMission(speed float64, waypoints ...*WayPoint) *Mission {
	return &Mission{waypoints: waypoints, speed: speed}
}

// ForVehicle flies the mission on the named vehicle instead of the default one.
func (m *Mission) ForVehicle(name string) *Mission {
	m.vehicle = name
	return m
}

// WithLegTimeout bounds each leg's convergence wait.
func (m *Mission) WithLegTimeout(d time.Duration) *Mission {
	m.legTimeout = &d
	return m
}

func (m *Mission) Path() []*WayPoint {
	return m.waypoints
}

func (m *Mission) Speed() float64 {
	return m.speed
}

// RunMission flies every leg in order and stops at the first leg that fails.
func (c *FlightClient) RunMission(ctx context.Context, m *Mission) bool {
	for i, wp := range m.Path() {
		opts := []CallOption{WithVehicle(m.vehicle)}
		if yaw, ok := wp.Yaw(); ok {
			opts = append(opts, WithYaw(yaw))
		}
		if m.legTimeout != nil {
			opts = append(opts, WithTimeout(*m.legTimeout))
		}
		c.logger.Infof("mission leg %d/%d: (%.2f, %.2f, %.2f)", i+1, len(m.waypoints), wp.X(), wp.Y(), wp.Z())
		if !c.MoveToPosition(ctx, wp.X(), wp.Y(), wp.Z(), m.speed, opts...) {
			c.logger.Warnf("mission aborted at leg %d", i+1)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}
