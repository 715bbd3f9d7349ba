package extractor

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// createTestImage fills an image with a per-pixel colour so positions can be traced after cropping
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(10 + x), uint8(10 + y), 200, 255})
		}
	}
	return img
}

func rectMask(w, h int, r image.Rectangle) *types.Mask {
	m := types.NewMask(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func TestIsolateRegion(t *testing.T) {
	img := createTestImage(10, 8)
	mask := rectMask(10, 8, image.Rect(2, 1, 5, 5)) // 3x4
	mask.Set(2, 1, false)                             // hole in the top-left corner

	crop, ok := IsolateRegion(img, mask)
	if !ok {
		t.Fatal("expected region")
	}
	if crop.Bounds().Dx() != 3 || crop.Bounds().Dy() != 4 {
		t.Fatalf("crop size: got %v", crop.Bounds())
	}

	if got := crop.NRGBAAt(0, 0); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("uncovered pixel should be black, got %v", got)
	}
	if got := crop.NRGBAAt(1, 0); got.R != 13 || got.G != 11 {
		t.Errorf("covered pixel should keep source colour, got %v", got)
	}
}

func TestIsolateRegion_EmptyMask(t *testing.T) {
	img := createTestImage(10, 8)
	if _, ok := IsolateRegion(img, types.NewMask(10, 8)); ok {
		t.Error("empty mask should be skipped")
	}
	if _, ok := IsolateRegion(img, nil); ok {
		t.Error("nil mask should be skipped")
	}
}

func TestIsolateRegion_MaskLargerThanImage(t *testing.T) {
	img := createTestImage(4, 4)
	mask := types.NewMask(10, 10)
	mask.Set(8, 8, true)
	if _, ok := IsolateRegion(img, mask); ok {
		t.Error("mask outside the image should be skipped")
	}

	mask.Set(3, 3, true)
	crop, ok := IsolateRegion(img, mask)
	if !ok {
		t.Fatal("expected region clipped to image")
	}
	if crop.Bounds().Dx() != 1 || crop.Bounds().Dy() != 1 {
		t.Errorf("clipped size: got %v", crop.Bounds())
	}
}

func TestExtract_RotatesCounterClockwise(t *testing.T) {
	img := createTestImage(10, 8)
	mask := rectMask(10, 8, image.Rect(2, 1, 5, 5)) // crop is 3 wide, 4 tall

	regions := New().Extract(img, []types.Detection{{
		Mask: mask,
		Box:  types.Box{X1: 2, Y1: 1, X2: 5, Y2: 5},
	}})
	if len(regions) != 1 {
		t.Fatalf("regions: got %d, want 1", len(regions))
	}

	out := regions[0].Image
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 3 {
		t.Fatalf("rotated size: got %v, want 4x3", out.Bounds())
	}

	// crop (sx, sy) lands at (sy, cropW-1-sx) after a counter-clockwise turn
	r, g, _, _ := out.At(0, 0).RGBA()
	if uint8(r>>8) != 10+4 || uint8(g>>8) != 10+1 {
		t.Errorf("top-left after rotation should be source (4,1), got r=%d g=%d", r>>8, g>>8)
	}

	if regions[0].Box.Y2 != 5 {
		t.Errorf("region should keep detection box, got %+v", regions[0].Box)
	}
	if len(regions[0].Polygons) != 1 {
		t.Errorf("polygons: got %d, want 1", len(regions[0].Polygons))
	}
}

func TestExtract_SkipsEmptyMasks(t *testing.T) {
	img := createTestImage(10, 8)
	detections := []types.Detection{
		{Mask: rectMask(10, 8, image.Rect(0, 0, 2, 2)), Box: types.Box{X2: 2, Y2: 2}},
		{Mask: types.NewMask(10, 8), Box: types.Box{X1: 5, X2: 6, Y2: 1}},
		{Mask: rectMask(10, 8, image.Rect(6, 6, 9, 8)), Box: types.Box{X1: 6, Y1: 6, X2: 9, Y2: 8}},
	}

	regions := New().Extract(img, detections)
	if len(regions) != 2 {
		t.Fatalf("regions: got %d, want 2", len(regions))
	}
	if regions[1].Box.X1 != 6 {
		t.Errorf("second region should come from third detection, got %+v", regions[1].Box)
	}
}

func TestExtract_Empty(t *testing.T) {
	if got := New().Extract(createTestImage(4, 4), nil); len(got) != 0 {
		t.Errorf("expected no regions, got %d", len(got))
	}
	if got := New().Extract(nil, []types.Detection{{}}); len(got) != 0 {
		t.Errorf("expected no regions for nil image, got %d", len(got))
	}
}

func TestExtract_WithoutRotation(t *testing.T) {
	img := createTestImage(10, 8)
	mask := rectMask(10, 8, image.Rect(2, 1, 5, 5))
	regions := NewWithRotation(false).Extract(img, []types.Detection{{Mask: mask}})
	if len(regions) != 1 {
		t.Fatalf("regions: got %d", len(regions))
	}
	if b := regions[0].Image.Bounds(); b.Dx() != 3 || b.Dy() != 4 {
		t.Errorf("unrotated size: got %v", b)
	}
}
