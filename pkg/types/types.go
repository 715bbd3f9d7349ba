package types

import (
	"image"
	"math"
	"strings"
)

// Sentinel values returned by the identifier when a field cannot be read
const (
	UnknownTitle  = "Title Unknown"
	UnknownAuthor = "Author Unknown"
)

// Point is a pixel coordinate serialized as [x, y]
type Point [2]int

// Polygon is a closed contour, the last point connects back to the first
type Polygon []Point

// Box is an axis-aligned bounding box in image pixel coordinates
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// XYXY returns the box as a [x1, y1, x2, y2] slice
func (b Box) XYXY() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Mask is a binary pixel grid, row-major, with the dimensions of the source image
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an empty mask
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// At reports whether the pixel at (x, y) is set. Out of range reads are false.
func (m *Mask) At(x, y int) bool {
	if m == nil || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	i := y*m.Width + x
	if i >= len(m.Bits) {
		return false
	}
	return m.Bits[i]
}

// Set marks the pixel at (x, y). Out of range writes are ignored.
func (m *Mask) Set(x, y int, v bool) {
	if m == nil || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	i := y*m.Width + x
	if i < len(m.Bits) {
		m.Bits[i] = v
	}
}

// Bounds returns the tight inclusive bounds of all set pixels as an
// exclusive image.Rectangle. ok is false when no pixel is set.
func (m *Mask) Bounds() (r image.Rectangle, ok bool) {
	if m == nil {
		return image.Rectangle{}, false
	}
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		row := y * m.Width
		for x := 0; x < m.Width; x++ {
			if row+x >= len(m.Bits) || !m.Bits[row+x] {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Detection is one segmentation result for a candidate book
type Detection struct {
	Mask       *Mask   `json:"-"`
	Box        Box     `json:"box"`
	Class      string  `json:"class,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Region is the isolated, background-suppressed and rotated crop of one detection.
// Box and Polygons keep the geometry of the detection it came from.
type Region struct {
	Image    image.Image
	Polygons []Polygon
	Box      Box
}

// IdentifiedBook is the title/author pair read from one region
type IdentifiedBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// UnknownBook returns a book with both sentinel values
func UnknownBook() IdentifiedBook {
	return IdentifiedBook{Title: UnknownTitle, Author: UnknownAuthor}
}

// IsValid reports whether neither field holds its unknown sentinel
func (b IdentifiedBook) IsValid() bool {
	return b.Title != UnknownTitle && b.Author != UnknownAuthor
}

// IdentifyStatus classifies the shape of an identification response
type IdentifyStatus int

const (
	// IdentifyComplete means one well-formed result per input image
	IdentifyComplete IdentifyStatus = iota
	// IdentifyPartial means the response was malformed or mis-sized and was padded or truncated
	IdentifyPartial
	// IdentifyFailed means no usable data was returned; every result is unknown
	IdentifyFailed
)

func (s IdentifyStatus) String() string {
	switch s {
	case IdentifyComplete:
		return "complete"
	case IdentifyPartial:
		return "partial"
	case IdentifyFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// IdentifyResult is the outcome of identifying one batch of regions
type IdentifyResult struct {
	Books  []IdentifiedBook
	Status IdentifyStatus
}

// Conform returns a copy of the result with exactly n books. Missing entries
// are padded with unknown sentinels and extra entries are dropped; either
// case downgrades a complete status to partial.
func (r IdentifyResult) Conform(n int) IdentifyResult {
	if n < 0 {
		n = 0
	}
	out := IdentifyResult{Books: make([]IdentifiedBook, n), Status: r.Status}
	copied := copy(out.Books, r.Books)
	for i := copied; i < n; i++ {
		out.Books[i] = UnknownBook()
	}
	if len(r.Books) != n && out.Status == IdentifyComplete {
		out.Status = IdentifyPartial
	}
	return out
}

// FailedResult is an all-unknown result for n regions
func FailedResult(n int) IdentifyResult {
	return IdentifyResult{Status: IdentifyFailed}.Conform(n)
}

// BookAnnotation fuses one identified book with the geometry of its detection
type BookAnnotation struct {
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Polygons []Polygon `json:"polygons"`
	XYXY     []float64 `json:"xyxy"`
}

// VerticalSpan returns the top and bottom of the annotation box.
// ok is false when the box is not a well-formed 4-tuple of finite values.
func (a BookAnnotation) VerticalSpan() (top, bottom float64, ok bool) {
	if len(a.XYXY) != 4 {
		return 0, 0, false
	}
	for _, v := range a.XYXY {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, false
		}
	}
	return a.XYXY[1], a.XYXY[3], true
}

// Book returns the identification part of the annotation
func (a BookAnnotation) Book() IdentifiedBook {
	return IdentifiedBook{Title: a.Title, Author: a.Author}
}

// Shelf is an ordered group of books on the same physical shelf
type Shelf struct {
	ShelfID     int              `json:"shelf_id"`
	Annotations []BookAnnotation `json:"annotations"`
}

// CleanField trims a model-provided value and replaces blanks with the fallback
func CleanField(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}
