package interpolate

import (
	"github.com/peterstace/simplefeatures/geom"

	"github.com/campusride/livelocation/internal/geo"
)

// SmoothPath densifies waypoints with resolution points per segment. Three or
// more points use a uniform Catmull-Rom spline through every waypoint; two
// points are interpolated linearly; fewer are returned as a copy.
func SmoothPath(points []geo.Point, resolution int) []geo.Point {
	if len(points) < 2 {
		return append([]geo.Point(nil), points...)
	}
	if resolution < 1 {
		resolution = 1
	}

	out := make([]geo.Point, 0, (len(points)-1)*resolution+1)
	if len(points) == 2 {
		a, b := points[0], points[1]
		for j := 0; j < resolution; j++ {
			t := float64(j) / float64(resolution)
			out = append(out, geo.Point{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t})
		}
		return append(out, b)
	}

	last := len(points) - 1
	for i := 0; i < last; i++ {
		p0 := points[max(i-1, 0)]
		p1 := points[i]
		p2 := points[i+1]
		p3 := points[min(i+2, last)]
		for j := 0; j < resolution; j++ {
			t := float64(j) / float64(resolution)
			out = append(out, geo.Point{
				Lat: catmullRom(p0.Lat, p1.Lat, p2.Lat, p3.Lat, t),
				Lng: catmullRom(p0.Lng, p1.Lng, p2.Lng, p3.Lng, t),
			})
		}
	}
	return append(out, points[last])
}

func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * (2*p1 +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// PathLineString smooths points and returns the result as a LineString.
func PathLineString(points []geo.Point, resolution int) (geom.LineString, error) {
	return geo.LineString(SmoothPath(points, resolution))
}

// TrailPoints returns the buffered trail as points for SmoothPath.
func TrailPoints(trail []Position) []geo.Point {
	out := make([]geo.Point, len(trail))
	for i, p := range trail {
		out[i] = p.Point()
	}
	return out
}
