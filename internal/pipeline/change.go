package pipeline

import (
	"image"

	"golang.org/x/image/draw"
)

// ChangeScore is the sum of binarized per-pixel luminance differences
// between two frames. Each changed pixel contributes 255.
type ChangeScore uint64

// DefaultPixelDiffThreshold is the luminance delta a pixel must exceed to count as changed
const DefaultPixelDiffThreshold uint8 = 25

// EstimateChange compares two frames of identical size. The score is
// symmetric in its arguments and zero for identical frames.
func EstimateChange(prev, curr *Frame, pixelThreshold uint8) (ChangeScore, error) {
	pb, cb := prev.Bounds(), curr.Bounds()
	if pb.Dx() != cb.Dx() || pb.Dy() != cb.Dy() {
		return 0, &ShapeMismatchError{Prev: pb.Size(), Curr: cb.Size()}
	}

	a := Luminance(prev.Image)
	b := Luminance(curr.Image)

	var changed uint64
	w, h := pb.Dx(), pb.Dy()
	for y := 0; y < h; y++ {
		rowA := a.Pix[y*a.Stride : y*a.Stride+w]
		rowB := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := 0; x < w; x++ {
			d := int(rowA[x]) - int(rowB[x])
			if d < 0 {
				d = -d
			}
			if d > int(pixelThreshold) {
				changed++
			}
		}
	}

	return ChangeScore(changed * 255), nil
}

// Luminance returns a grayscale copy of img whose bounds start at (0,0).
// YCbCr images (decoded JPEG) reuse their Y plane.
func Luminance(img image.Image) *image.Gray {
	if img == nil {
		return image.NewGray(image.Rectangle{})
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], src.Pix[off:off+b.Dx()])
		}
	case *image.YCbCr:
		for y := 0; y < b.Dy(); y++ {
			off := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], src.Y[off:off+b.Dx()])
		}
	default:
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}

	return gray
}
