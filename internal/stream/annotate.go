// Package stream renders annotated frames and serves them as MJPEG.
package stream

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"peoplewatch/internal/pipeline"
)

var (
	DetectedColor = color.RGBA{0, 255, 0, 255}
	TrackedColor  = color.RGBA{0, 0, 255, 255}
	LabelColor    = color.RGBA{255, 255, 0, 255}
)

// DefaultJPEGQuality is used for annotated frames
const DefaultJPEGQuality = 85

// Annotator draws the boxes of a frame result onto a copy of its image
type Annotator struct {
	Thickness int
	Quality   int
	Labels    bool
}

// NewAnnotator creates an annotator with 2px boxes and coordinate labels
func NewAnnotator() *Annotator {
	return &Annotator{Thickness: 2, Quality: DefaultJPEGQuality, Labels: true}
}

// Draw returns an RGBA copy of the result's frame with its boxes drawn.
// Detected boxes are green, tracked boxes blue.
func (a *Annotator) Draw(result *pipeline.FrameResult) *image.RGBA {
	if result == nil || result.Frame == nil || result.Frame.Image == nil {
		return nil
	}

	src := result.Frame.Image
	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)

	for _, b := range result.Boxes {
		c := TrackedColor
		if b.Source == pipeline.BoxSourceDetected {
			c = DetectedColor
		}
		drawBox(rgba, b.Box, c, a.Thickness)
		if a.Labels {
			drawLabel(rgba, b.Box.X, b.Box.Y-15, b.Box.String(), LabelColor)
		}
	}

	return rgba
}

// Encode draws the result and encodes it as JPEG
func (a *Annotator) Encode(result *pipeline.FrameResult) ([]byte, error) {
	img := a.Draw(result)
	if img == nil {
		return nil, nil
	}

	quality := a.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawBox draws the outline of b, clipped to the image
func drawBox(img *image.RGBA, b pipeline.BoundingBox, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	bounds := img.Bounds()
	outer := b.Rect()
	if outer.Empty() {
		return
	}

	for t := 0; t < thickness; t++ {
		r := outer.Inset(t)
		if r.Empty() {
			break
		}
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
			image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
			image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(bounds), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}

// drawLabel draws text on a dark background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	textWidth := len(label) * 7
	bg := image.Rect(x-2, y-2, x+textWidth+2, y+12).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
