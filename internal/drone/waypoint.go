package drone

import "github.com/golang/geo/r3"

// WayPoint is a mission leg target in the ROS frame. A nil yaw keeps the current heading.
type WayPoint struct {
	x      float64
	y      float64
	z      float64
	yawDeg *float64
}

func NewWayPoint(x, y, z float64) *WayPoint {
	return &WayPoint{x: x, y: y, z: z}
}

// WithYaw returns a copy of p that also holds a heading.
func (p *WayPoint) WithYaw(deg float64) *WayPoint {
	cp := *p
	cp.yawDeg = &deg
	return &cp
}

func (p *WayPoint) X() float64 {
	return p.x
}

func (p *WayPoint) Y() float64 {
	return p.y
}

func (p *WayPoint) Z() float64 {
	return p.z
}

func (p *WayPoint) Position() r3.Vector {
	return r3.Vector{X: p.x, Y: p.y, Z: p.z}
}

func (p *WayPoint) Yaw() (float64, bool) {
	if p.yawDeg == nil {
		return 0, false
	}
	return *p.yawDeg, true
}
