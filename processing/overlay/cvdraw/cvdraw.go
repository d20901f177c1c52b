// Package cvdraw renders display results with OpenCV.
package cvdraw

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"depthview/processing/overlay"
)

const (
	fontScale = 0.5
	thickness = 2
)

// Draw paints annotations onto a BGR mat with the Hershey simplex font.
func Draw(mat *gocv.Mat, anns []overlay.Annotation, c color.RGBA) {
	for _, a := range anns {
		gocv.Rectangle(mat, a.Box, c, thickness)
		for _, l := range a.Lines {
			gocv.PutText(mat, l.Text, l.At, gocv.FontHersheySimplex, fontScale, c, thickness)
		}
	}
}

// FrameMat converts an RGBA frame into a BGR mat. The caller closes it.
func FrameMat(img *image.RGBA) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "frame to mat")
	}
	return mat, nil
}

// GrayMat copies an 8-bit image into a single channel mat, resized to size
// unless size is zero. The caller closes it.
func GrayMat(g *image.Gray, size image.Point) (gocv.Mat, error) {
	b := g.Bounds()
	pix := g.Pix
	if g.Stride != b.Dx() {
		pix = make([]byte, 0, b.Dx()*b.Dy())
		for y := 0; y < b.Dy(); y++ {
			pix = append(pix, g.Pix[y*g.Stride:y*g.Stride+b.Dx()]...)
		}
	}

	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "gray to mat")
	}
	if size == (image.Point{}) || size == b.Size() {
		return mat, nil
	}

	defer mat.Close()
	resized := gocv.NewMat()
	gocv.Resize(mat, &resized, size, 0, 0, gocv.InterpolationLinear)
	return resized, nil
}
