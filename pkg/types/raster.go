package types

import (
	"math"
	"sort"
)

// RasterizePolygon fills a closed polygon into a new width x height mask using
// the even-odd rule. A pixel is set when its centre lies inside the polygon.
func RasterizePolygon(width, height int, pts [][2]float64) *Mask {
	m := NewMask(width, height)
	FillPolygon(m, pts)
	return m
}

// FillPolygon sets every mask pixel whose centre lies inside the polygon
func FillPolygon(m *Mask, pts [][2]float64) {
	n := len(pts)
	if m == nil || n < 3 {
		return
	}

	xs := make([]float64, 0, n)
	for y := 0; y < m.Height; y++ {
		cy := float64(y) + 0.5
		xs = xs[:0]
		for i := 0; i < n; i++ {
			a, b := pts[i], pts[(i+1)%n]
			if (a[1] <= cy) == (b[1] <= cy) {
				continue
			}
			xs = append(xs, a[0]+(cy-a[1])*(b[0]-a[0])/(b[1]-a[1]))
		}
		sort.Float64s(xs)

		for i := 0; i+1 < len(xs); i += 2 {
			start := int(math.Ceil(xs[i] - 0.5))
			end := int(math.Ceil(xs[i+1]-0.5)) - 1
			for x := max(start, 0); x <= min(end, m.Width-1); x++ {
				m.Set(x, y, true)
			}
		}
	}
}

// Float returns the polygon points as float pairs
func (p Polygon) Float() [][2]float64 {
	out := make([][2]float64, len(p))
	for i, pt := range p {
		out[i] = [2]float64{float64(pt[0]), float64(pt[1])}
	}
	return out
}
