package pathing

import "FlightLink/internal/drone"

// Edge is one side of the survey boundary.
type Edge struct {
	point1 *drone.WayPoint
	point2 *drone.WayPoint
}

// GetEdgePivot returns the endpoints ordered by Y, lowest first.
func (e *Edge) GetEdgePivot() (*drone.WayPoint, *drone.WayPoint) {
	if e.point1.Y() < e.point2.Y() {
		return e.point1, e.point2
	}

	return e.point2, e.point1
}

// crossing returns the X where the line at y meets the edge. The upper endpoint is
// excluded so a vertex shared by two edges is only counted once.
func (e *Edge) crossing(y float64) (float64, bool) {
	lo, hi := e.GetEdgePivot()
	if lo.Y() == hi.Y() || y < lo.Y() || y >= hi.Y() {
		return 0, false
	}
	t := (y - lo.Y()) / (hi.Y() - lo.Y())
	return lo.X() + t*(hi.X()-lo.X()), true
}
