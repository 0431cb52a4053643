package motion

import (
	"image"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Config tunes the blob detector
type Config struct {
	MaxWidth        int     // Frames wider than this are downscaled before analysis
	PixelThreshold  uint8   // Luminance delta that marks a pixel as moving
	MinAreaFraction float64 // Smallest blob, as a fraction of the analysed frame
	MinAspect       float64 // Minimum height/width ratio; people stand upright
	DilateRadius    int     // Joins fragments of the same silhouette
}

// DefaultConfig returns defaults tuned for 320-1080p surveillance footage
func DefaultConfig() Config {
	return Config{
		MaxWidth:        160,
		PixelThreshold:  25,
		MinAreaFraction: 0.002,
		MinAspect:       1.0,
		DilateRadius:    1,
	}
}

// BlobDetector finds moving, upright regions by differencing consecutive
// frames. It keeps the previous analysed frame, so one instance serves one stream.
type BlobDetector struct {
	cfg  Config
	prev *image.Gray
	mu   sync.Mutex
}

// NewBlobDetector creates a blob detector
func NewBlobDetector(cfg Config) *BlobDetector {
	def := DefaultConfig()
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = def.MaxWidth
	}
	if cfg.MinAreaFraction <= 0 {
		cfg.MinAreaFraction = def.MinAreaFraction
	}
	if cfg.DilateRadius < 0 {
		cfg.DilateRadius = 0
	}
	return &BlobDetector{cfg: cfg}
}

// Detect returns the bounding rectangles of moving blobs in img, in the
// coordinates of img. The first frame, and any frame whose size differs
// from the previous one, only primes the reference and yields nothing.
func (d *BlobDetector) Detect(img image.Image) []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil
	}
	small, scale := d.analysisFrame(img)

	prev := d.prev
	d.prev = small
	if prev == nil || prev.Bounds() != small.Bounds() {
		return nil
	}

	mask := diffMask(prev, small, d.cfg.PixelThreshold)
	if d.cfg.DilateRadius > 0 {
		mask = dilate(mask, small.Bounds().Dx(), small.Bounds().Dy(), d.cfg.DilateRadius)
	}

	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	minArea := int(math.Ceil(d.cfg.MinAreaFraction * float64(w*h)))

	var out []image.Rectangle
	for _, r := range components(mask, w, h) {
		if r.Dx()*r.Dy() < minArea {
			continue
		}
		if float64(r.Dy()) < d.cfg.MinAspect*float64(r.Dx()) {
			continue
		}
		full := image.Rect(
			bounds.Min.X+int(math.Floor(float64(r.Min.X)/scale)),
			bounds.Min.Y+int(math.Floor(float64(r.Min.Y)/scale)),
			bounds.Min.X+int(math.Ceil(float64(r.Max.X)/scale)),
			bounds.Min.Y+int(math.Ceil(float64(r.Max.Y)/scale)),
		).Intersect(bounds)
		if !full.Empty() {
			out = append(out, full)
		}
	}
	return out
}

// Reset forgets the reference frame
func (d *BlobDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = nil
}

// analysisFrame converts img to grayscale, downscaled to at most MaxWidth
func (d *BlobDetector) analysisFrame(img image.Image) (*image.Gray, float64) {
	b := img.Bounds()
	scale := 1.0
	w, h := b.Dx(), b.Dy()
	if w > d.cfg.MaxWidth {
		scale = float64(d.cfg.MaxWidth) / float64(w)
		w = d.cfg.MaxWidth
		h = int(math.Max(1, math.Round(float64(h)*scale)))
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	if scale == 1.0 {
		xdraw.Draw(gray, gray.Bounds(), img, b.Min, xdraw.Src)
	} else {
		xdraw.BiLinear.Scale(gray, gray.Bounds(), img, b, xdraw.Src, nil)
	}
	return gray, scale
}

func diffMask(a, b *image.Gray, threshold uint8) []bool {
	mask := make([]bool, len(a.Pix))
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		mask[i] = d > int(threshold)
	}
	return mask
}

func dilate(mask []bool, w, h, r int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for yy := max(0, y-r); yy <= min(h-1, y+r); yy++ {
				for xx := max(0, x-r); xx <= min(w-1, x+r); xx++ {
					out[yy*w+xx] = true
				}
			}
		}
	}
	return out
}

// components labels 8-connected regions and returns their bounding boxes
// in raster order of their first pixel
func components(mask []bool, w, h int) []image.Rectangle {
	seen := make([]bool, len(mask))
	var rects []image.Rectangle
	var stack []int

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		r := image.Rect(start%w, start/w, start%w+1, start/w+1)
		seen[start] = true
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			r = r.Union(image.Rect(x, y, x+1, y+1))

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		rects = append(rects, r)
	}
	return rects
}
