package overlay

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gobold"
)

const (
	FontSize  = 13
	LineWidth = 2
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(gobold.TTF)
	if err != nil {
		panic(err)
	}
}

// Draw paints annotations onto img in place.
func Draw(img *image.RGBA, anns []Annotation, c color.Color) {
	if len(anns) == 0 {
		return
	}
	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: FontSize}))
	dc.SetColor(c)
	dc.SetLineWidth(LineWidth)

	for _, a := range anns {
		r := a.Box
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
		for _, l := range a.Lines {
			dc.DrawString(l.Text, float64(l.At.X), float64(l.At.Y))
		}
	}
}

// ToRGBA returns img as *image.RGBA, copying only when it is another type.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}
