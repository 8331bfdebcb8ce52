// Package pathing plans lawnmower survey missions over a polygon given in the ROS frame.
package pathing

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"FlightLink/internal/common"
	"FlightLink/internal/drone"
)

type FlightPathOptions struct {
	// CameraFOV is the full horizontal field of view in degrees
	CameraFOV float64
	// Altitude is the survey height, ROS z
	Altitude float64
	Speed    float64
}

// SwathWidth is the ground width one pass covers.
func (o FlightPathOptions) SwathWidth() float64 {
	halfFovRadians := common.DegreesToRadians(.5 * o.CameraFOV)
	return o.Altitude * math.Tan(halfFovRadians) * 2
}

// NewFlightPath sweeps passes parallel to X across bounds, spaced one swath apart and
// alternating direction, and returns them as a mission.
func NewFlightPath(bounds []*drone.WayPoint, opts FlightPathOptions) (*drone.Mission, error) {
	if len(bounds) < 3 {
		return nil, errors.Errorf("survey boundary needs at least 3 points, got %d", len(bounds))
	}
	if opts.CameraFOV <= 0 || opts.CameraFOV >= 180 {
		return nil, errors.Errorf("camera fov must be in (0, 180), got %.1f", opts.CameraFOV)
	}
	if opts.Altitude <= 0 {
		return nil, errors.New("survey altitude must be positive")
	}

	edges := make([]Edge, 0, len(bounds))
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := range bounds {
		edges = append(edges, Edge{point1: bounds[i], point2: bounds[(i+1)%len(bounds)]})
		minY = math.Min(minY, bounds[i].Y())
		maxY = math.Max(maxY, bounds[i].Y())
	}

	delta := opts.SwathWidth()
	var path []*drone.WayPoint
	forward := true
	for y := minY + delta/2; y < maxY; y += delta {
		var xs []float64
		for i := range edges {
			if x, ok := edges[i].crossing(y); ok {
				xs = append(xs, x)
			}
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)
		start, end := xs[0], xs[len(xs)-1]
		if !forward {
			start, end = end, start
		}
		path = append(path,
			drone.NewWayPoint(start, y, opts.Altitude),
			drone.NewWayPoint(end, y, opts.Altitude),
		)
		forward = !forward
	}
	if len(path) == 0 {
		return nil, errors.New("survey boundary is narrower than one pass")
	}
	return drone.NewMission(opts.Speed, path...), nil
}
