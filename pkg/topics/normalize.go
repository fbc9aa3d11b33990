package topics

import (
	"math"
	"strconv"
)

// Display range for normalized coordinates.
const (
	DisplayMin = 5.0
	DisplayMax = 95.0
)

// Point is a raw 2-D projection coordinate.
type Point struct {
	X, Y float64
}

// Bounds is the observed bounding box of a set of points.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// BoundsOf returns the bounding box of points. The zero Bounds is returned for
// an empty slice.
func BoundsOf(points []Point) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{MinX: points[0].X, MaxX: points[0].X, MinY: points[0].Y, MaxY: points[0].Y}
	for _, p := range points[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Map projects p into the display range. Each axis is scaled independently;
// a zero-width axis uses a divisor of 1 so identical points collapse onto
// DisplayMin instead of producing NaN.
func (b Bounds) Map(p Point) Point {
	return Point{
		X: scaleAxis(p.X, b.MinX, b.MaxX),
		Y: scaleAxis(p.Y, b.MinY, b.MaxY),
	}
}

func scaleAxis(v, lo, hi float64) float64 {
	span := hi - lo
	if span == 0 {
		span = 1
	}
	return DisplayMin + (DisplayMax-DisplayMin)*(v-lo)/span
}

// Normalize maps every point into the display range, rounded to two decimals.
func Normalize(points []Point) []Point {
	b := BoundsOf(points)
	out := make([]Point, len(points))
	for i, p := range points {
		m := b.Map(p)
		out[i] = Point{X: Round(m.X, 2), Y: Round(m.Y, 2)}
	}
	return out
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

var palette = [...]string{
	"hsl(210, 100%, 65%)", "hsl(175, 70%, 55%)", "hsl(40, 90%, 62%)",
	"hsl(340, 75%, 62%)", "hsl(265, 60%, 65%)", "hsl(150, 65%, 52%)",
	"hsl(20, 85%, 60%)", "hsl(195, 75%, 58%)", "hsl(300, 50%, 62%)",
	"hsl(55, 80%, 55%)", "hsl(0, 70%, 60%)", "hsl(120, 55%, 52%)",
}

// Color returns the display color for a cluster id.
func Color(clusterID int) string {
	i := clusterID % len(palette)
	if i < 0 {
		i += len(palette)
	}
	return palette[i]
}

// PlaceholderLabel is the label a topic carries before (or instead of) a
// Labeler-assigned one.
func PlaceholderLabel(clusterID int) string {
	return "Cluster " + strconv.Itoa(clusterID)
}
