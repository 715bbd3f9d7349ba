package extractor

import (
	"image"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// Moore neighbourhood in clockwise order (y grows downward)
var neighbours = [8]image.Point{
	{1, 0},   // E
	{1, 1},   // SE
	{0, 1},   // S
	{-1, 1},  // SW
	{-1, 0},  // W
	{-1, -1}, // NW
	{0, -1},  // N
	{1, -1},  // NE
}

const west = 4

// MaskToPolygons returns the outer contour of every 8-connected component of
// the mask. Runs of collinear boundary pixels are collapsed to their end
// points and contours with fewer than three points are discarded.
func MaskToPolygons(mask *types.Mask) []types.Polygon {
	var polygons []types.Polygon
	if mask == nil || mask.Width <= 0 || mask.Height <= 0 {
		return polygons
	}

	// Labels only cover the set pixels' bounds, not the whole image
	rect, ok := mask.Bounds()
	if !ok {
		return polygons
	}
	grid := labelGrid{rect: rect, labels: make([]int32, rect.Dx()*rect.Dy())}
	var label int32

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if !mask.At(x, y) || grid.get(image.Pt(x, y)) != 0 {
				continue
			}
			label++
			size := labelComponent(mask, &grid, image.Pt(x, y), label)

			lbl := label
			inside := func(p image.Point) bool {
				return grid.get(p) == lbl
			}
			contour := compressContour(traceContour(inside, image.Pt(x, y), 4*size+16))
			if len(contour) < 3 {
				continue
			}

			poly := make(types.Polygon, len(contour))
			for i, p := range contour {
				poly[i] = types.Point{p.X, p.Y}
			}
			polygons = append(polygons, poly)
		}
	}

	return polygons
}

// labelGrid holds component labels for the pixels of rect
type labelGrid struct {
	rect   image.Rectangle
	labels []int32
}

// get returns the label at p, 0 outside rect
func (g *labelGrid) get(p image.Point) int32 {
	if !p.In(g.rect) {
		return 0
	}
	return g.labels[(p.Y-g.rect.Min.Y)*g.rect.Dx()+p.X-g.rect.Min.X]
}

func (g *labelGrid) set(p image.Point, label int32) {
	g.labels[(p.Y-g.rect.Min.Y)*g.rect.Dx()+p.X-g.rect.Min.X] = label
}

// labelComponent flood-fills the 8-connected component containing start
// and returns its pixel count
func labelComponent(mask *types.Mask, grid *labelGrid, start image.Point, label int32) int {
	queue := []image.Point{start}
	grid.set(start, label)
	count := 0

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		count++
		for _, d := range neighbours {
			n := p.Add(d)
			if !mask.At(n.X, n.Y) || grid.get(n) != 0 {
				continue
			}
			grid.set(n, label)
			queue = append(queue, n)
		}
	}
	return count
}

// traceContour walks the boundary clockwise with Moore-neighbour tracing.
// start must be the first component pixel in raster order so that its west
// neighbour is background. Tracing stops when start is re-entered in the
// same direction as the first move.
func traceContour(inside func(image.Point) bool, start image.Point, limit int) []image.Point {
	contour := []image.Point{start}
	cur, back := start, west
	var second image.Point

	for step := 0; step < limit; step++ {
		next, nextBack, found := mooreStep(inside, cur, back)
		if !found {
			break
		}
		if step == 0 {
			second = next
		} else if cur == start && next == second {
			break
		}
		contour = append(contour, next)
		cur, back = next, nextBack
	}

	if n := len(contour); n > 1 && contour[n-1] == start {
		contour = contour[:n-1]
	}
	return contour
}

// mooreStep scans the neighbours of p clockwise starting after the backtrack
// direction and returns the first foreground pixel together with the
// backtrack direction to use from it.
func mooreStep(inside func(image.Point) bool, p image.Point, back int) (image.Point, int, bool) {
	for i := 1; i <= 8; i++ {
		d := (back + i) % 8
		q := p.Add(neighbours[d])
		if inside(q) {
			prev := p.Add(neighbours[(d+7)%8])
			return q, direction(prev.Sub(q)), true
		}
	}
	return p, back, false
}

func direction(offset image.Point) int {
	for i, d := range neighbours {
		if d == offset {
			return i
		}
	}
	return west
}

// compressContour keeps only the points where the boundary changes direction
func compressContour(contour []image.Point) []image.Point {
	n := len(contour)
	if n < 3 {
		return contour
	}
	out := make([]image.Point, 0, n)
	for i, p := range contour {
		prev := contour[(i+n-1)%n]
		next := contour[(i+1)%n]
		if p.Sub(prev) != next.Sub(p) {
			out = append(out, p)
		}
	}
	return out
}
