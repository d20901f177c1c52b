package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview/internal/models"
)

var person = models.SpatialDetection{
	Label:      0,
	Confidence: 0.876,
	XMin:       0.25,
	YMin:       0.5,
	XMax:       0.5,
	YMax:       0.75,
	Spatial:    models.Point3f{X: -312.7, Y: 45.2, Z: 1834.9},
}

func TestAnnotateSpatial(t *testing.T) {
	a := Annotate(person, 640, 400, models.LabelsYOLO, StyleSpatial)

	assert.Equal(t, image.Rect(160, 200, 320, 300), a.Box)
	assert.Equal(t, []Line{
		{Text: "person: 0.88", At: image.Pt(160, 190)},
		{Text: "X: -312 mm", At: image.Pt(160, 215)},
		{Text: "Y: 45 mm", At: image.Pt(160, 230)},
		{Text: "Z: 1834 mm", At: image.Pt(160, 245)},
	}, a.Lines)
}

func TestAnnotateDepthOnly(t *testing.T) {
	a := Annotate(person, 640, 640, models.LabelsYOLO, StyleDepth)

	assert.Equal(t, image.Rect(160, 320, 320, 480), a.Box)
	assert.Equal(t, []Line{{Text: "Depth: 1834 mm", At: image.Pt(160, 310)}}, a.Lines)
}

func TestAnnotateUnknownLabel(t *testing.T) {
	det := person
	det.Label = 42
	det.Confidence = 0.5
	anns := AnnotateAll([]models.SpatialDetection{det, person}, 300, 300, models.LabelsMobileNet, StyleSpatial)

	require.Len(t, anns, 2)
	assert.Equal(t, "42: 0.50", anns[0].Lines[0].Text)
	assert.Equal(t, "background: 0.88", anns[1].Lines[0].Text)
}

func TestDrawPaintsBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	Draw(img, []Annotation{{
		Box:   image.Rect(10, 20, 60, 80),
		Lines: []Line{{Text: "cup: 0.91", At: image.Pt(10, 15)}},
	}}, models.ColorRed.RGBA())

	assert.NotZero(t, img.RGBAAt(10, 50).R)
	assert.NotZero(t, img.RGBAAt(35, 80).R)
	assert.Zero(t, img.RGBAAt(35, 50).R)

	var text int
	for x := 10; x < 60; x++ {
		for y := 3; y < 16; y++ {
			if img.RGBAAt(x, y).R > 0 {
				text++
			}
		}
	}
	assert.Positive(t, text)
}

func TestScaleDisparity(t *testing.T) {
	gray := &models.ImgFrame{Width: 3, Height: 1, Type: models.FrameGray8, Data: []byte{0, 19, 95}}
	img, err := ScaleDisparity(gray, 95)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 51, 255}, img.Pix)

	raw := models.NewRaw16Frame(1, 0, 2, 1, []uint16{380, 1000})
	img, err = ScaleDisparity(raw, 760)
	require.NoError(t, err)
	assert.Equal(t, []uint8{127, 255}, img.Pix)

	_, err = ScaleDisparity(gray, 0)
	assert.Error(t, err)

	color := &models.ImgFrame{Width: 1, Height: 1, Type: models.FrameBGR888i, Data: []byte{1, 2, 3}}
	_, err = ScaleDisparity(color, 95)
	assert.Error(t, err)
}

func TestScaleDepth(t *testing.T) {
	raw := models.NewRaw16Frame(1, 0, 5, 1, []uint16{0, 100, 2550, 5000, 6000})
	img, err := ScaleDepth(raw, 100, 5000)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 255, 128, 1, 0}, img.Pix)
}

func TestColorize(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 1))
	g.Pix[1] = 200
	out := Colorize(g)

	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(0, 0))
	c := out.RGBAAt(1, 0)
	assert.Equal(t, uint8(0xff), c.A)
	assert.NotZero(t, int(c.R)+int(c.G)+int(c.B))
}

func TestFit(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 320, 200))
	assert.Same(t, g, Fit(g, 320, 200))
	assert.Equal(t, image.Rect(0, 0, 640, 400), Fit(g, 640, 400).Bounds())
}

func TestToRGBA(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	assert.Same(t, rgba, ToRGBA(rgba))

	g := image.NewGray(image.Rect(0, 0, 2, 2))
	g.Pix[3] = 90
	out := ToRGBA(g)
	assert.Equal(t, color.RGBA{90, 90, 90, 255}, out.RGBAAt(1, 1))
}
