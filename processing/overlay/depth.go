package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"depthview/internal/models"
)

// ScaleDisparity maps disparity to 8 bits with factor 255/maxDisparity.
func ScaleDisparity(f *models.ImgFrame, maxDisparity float64) (*image.Gray, error) {
	if maxDisparity <= 0 {
		return nil, errors.Errorf("invalid max disparity %v", maxDisparity)
	}
	return scale(f, func(v float64) float64 { return v * 255 / maxDisparity })
}

// ScaleDepth maps millimeters in [lo, hi] to 255..1 so that near is bright.
// Samples outside the range, and invalid zero samples, become 0.
func ScaleDepth(f *models.ImgFrame, lo, hi float64) (*image.Gray, error) {
	if hi <= lo {
		return nil, errors.Errorf("invalid depth range %v..%v", lo, hi)
	}
	return scale(f, func(v float64) float64 {
		if v == 0 || v < lo || v > hi {
			return 0
		}
		return 1 + 254*(hi-v)/(hi-lo)
	})
}

func scale(f *models.ImgFrame, fn func(float64) float64) (*image.Gray, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	switch f.Type {
	case models.FrameGray8:
		for i, v := range f.Data {
			img.Pix[i] = clamp8(fn(float64(v)))
		}
	case models.FrameRaw16:
		for i, v := range f.Uint16() {
			img.Pix[i] = clamp8(fn(float64(v)))
		}
	default:
		return nil, errors.Errorf("frame type %q carries no depth", f.Type)
	}
	return img, nil
}

func clamp8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, v)))
}

var palette = func() [256]color.RGBA {
	var p [256]color.RGBA
	p[0] = color.RGBA{A: 0xff}
	for i := 1; i < 256; i++ {
		r, g, b := colorful.Hsv(30+200*float64(255-i)/254, 1, 1).RGB255()
		p[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return p
}()

// Colorize maps 8-bit intensities onto a hue ramp; zero stays black.
func Colorize(g *image.Gray) *image.RGBA {
	b := g.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		for x, v := range row {
			c := palette[v]
			i := out.PixOffset(x, y)
			out.Pix[i+0], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return out
}

// Fit resizes img to width x height unless it already has that size.
func Fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}
