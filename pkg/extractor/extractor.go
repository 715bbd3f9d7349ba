package extractor

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// Extractor turns segmentation masks into isolated, upright book regions
type Extractor struct {
	rotate bool
}

// New creates an Extractor that rotates every region 90° counter-clockwise
func New() *Extractor {
	return &Extractor{rotate: true}
}

// NewWithRotation creates an Extractor with rotation switched on or off
func NewWithRotation(rotate bool) *Extractor {
	return &Extractor{rotate: rotate}
}

// Extract produces one region per detection whose mask has at least one set
// pixel inside the image. Detections with empty masks are dropped, so the
// returned regions carry their own box and polygons for re-joining later.
func (e *Extractor) Extract(img image.Image, detections []types.Detection) []types.Region {
	regions := make([]types.Region, 0, len(detections))
	if img == nil {
		return regions
	}

	for _, det := range detections {
		crop, ok := IsolateRegion(img, det.Mask)
		if !ok {
			continue
		}

		var out image.Image = crop
		if e.rotate {
			out = imaging.Rotate90(crop)
		}

		regions = append(regions, types.Region{
			Image:    out,
			Polygons: MaskToPolygons(det.Mask),
			Box:      det.Box,
		})
	}

	return regions
}

// IsolateRegion crops img to the tight bounds of mask and blacks out every
// pixel the mask does not cover. Mask coordinates are relative to the image
// origin. ok is false when the mask covers no pixel of the image.
func IsolateRegion(img image.Image, mask *types.Mask) (*image.NRGBA, bool) {
	maskRect, ok := mask.Bounds()
	if !ok {
		return nil, false
	}

	bounds := img.Bounds()
	rect := maskRect.Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, false
	}

	crop := imaging.Crop(img, rect)
	offX := rect.Min.X - bounds.Min.X
	offY := rect.Min.Y - bounds.Min.Y

	covered := 0
	w, h := crop.Bounds().Dx(), crop.Bounds().Dy()
	for y := 0; y < h; y++ {
		i := y * crop.Stride
		for x := 0; x < w; x++ {
			if mask.At(offX+x, offY+y) {
				covered++
			} else {
				crop.Pix[i+0] = 0
				crop.Pix[i+1] = 0
				crop.Pix[i+2] = 0
				crop.Pix[i+3] = 255
			}
			i += 4
		}
	}

	if covered == 0 {
		return nil, false
	}
	return crop, true
}
