package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blend"
	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

const overlayAlpha = 110

// ShelfColor returns a distinct colour for the given shelf id. Hues are
// spaced by the golden angle so neighbouring shelves never look alike.
func ShelfColor(shelfID int) color.NRGBA {
	hue := math.Mod(float64(shelfID-1)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.75, 0.95).RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// RenderShelfOverlay tints every book polygon with its shelf colour and
// outlines its bounding box
func (p *Processor) RenderShelfOverlay(img image.Image, shelves []types.Shelf) image.Image {
	base := imaging.Clone(img)
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	layer := image.NewNRGBA(base.Bounds())
	stroke := int(math.Max(2, 0.003*float64(minInt(w, h))))

	mask := types.NewMask(w, h)
	for _, shelf := range shelves {
		c := ShelfColor(shelf.ShelfID)
		fill := color.NRGBA{R: c.R, G: c.G, B: c.B, A: overlayAlpha}

		for _, book := range shelf.Annotations {
			area := polygonBounds(book.Polygons).Intersect(layer.Bounds())
			for _, poly := range book.Polygons {
				types.FillPolygon(mask, poly.Float())
			}
			for y := area.Min.Y; y < area.Max.Y; y++ {
				for x := area.Min.X; x < area.Max.X; x++ {
					if mask.At(x, y) {
						layer.SetNRGBA(x, y, fill)
						mask.Set(x, y, false)
					}
				}
			}

			if len(book.XYXY) == 4 {
				x0, y0 := int(book.XYXY[0]), int(book.XYXY[1])
				x1, y1 := int(math.Ceil(book.XYXY[2])), int(math.Ceil(book.XYXY[3]))
				drawRect(layer, x0, y0, x1, y1, c, stroke)
			}
		}
	}

	return blend.Normal(base, layer)
}

// polygonBounds returns the rectangle covering every polygon point
func polygonBounds(polys []types.Polygon) image.Rectangle {
	var r image.Rectangle
	first := true
	for _, poly := range polys {
		for _, pt := range poly {
			pr := image.Rect(pt[0], pt[1], pt[0]+1, pt[1]+1)
			if first {
				r, first = pr, false
			} else {
				r = r.Union(pr)
			}
		}
	}
	return r
}

// Helper functions
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
