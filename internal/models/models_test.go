package models

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCheck(t *testing.T) {
	ok := &ImgFrame{Width: 2, Height: 2, Type: FrameRaw16, Data: make([]byte, 8)}
	assert.NoError(t, ok.Check())

	short := &ImgFrame{Width: 2, Height: 2, Type: FrameBGR888p, Data: make([]byte, 11)}
	assert.ErrorContains(t, short.Check(), "want 12")

	unknown := &ImgFrame{Width: 1, Height: 1, Type: "NV12", Data: []byte{0}}
	assert.Error(t, unknown.Check())

	empty := &ImgFrame{Type: FrameGray8}
	assert.Error(t, empty.Check())
}

func TestFrameCheckHugeDimensions(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"product overflows", 1 << 32, 1 << 32},
		{"wide", MaxFrameSide + 1, 1},
		{"tall", 1, MaxFrameSide + 1},
		{"negative", -1 << 32, -1 << 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &ImgFrame{Width: tt.w, Height: tt.h, Type: FrameGray8}
			assert.ErrorContains(t, f.Check(), "invalid frame size")
			assert.NotPanics(t, func() {
				_, err := f.Image()
				assert.Error(t, err)
			})
		})
	}

	edge := &ImgFrame{Width: MaxFrameSide, Height: 1, Type: FrameGray8, Data: make([]byte, MaxFrameSide)}
	assert.NoError(t, edge.Check())
}

func TestColorFrameImage(t *testing.T) {
	// one blue pixel, one red pixel
	planar := &ImgFrame{Width: 2, Height: 1, Type: FrameBGR888p, Data: []byte{255, 0, 0, 0, 0, 255}}
	interleaved := &ImgFrame{Width: 2, Height: 1, Type: FrameBGR888i, Data: []byte{255, 0, 0, 0, 0, 255}}

	for _, f := range []*ImgFrame{planar, interleaved} {
		img, err := f.Image()
		require.NoError(t, err)
		rgba, ok := img.(*image.RGBA)
		require.True(t, ok)
		assert.Equal(t, color.RGBA{0, 0, 255, 255}, rgba.RGBAAt(0, 0), f.Type)
		assert.Equal(t, color.RGBA{255, 0, 0, 255}, rgba.RGBAAt(1, 0), f.Type)

		bgr, err := f.Interleaved()
		require.NoError(t, err)
		assert.Equal(t, []byte{255, 0, 0, 0, 0, 255}, bgr, f.Type)
	}
}

func TestDepthFrames(t *testing.T) {
	f := NewRaw16Frame(7, 0, 2, 1, []uint16{1500, 65535})
	require.NoError(t, f.Check())
	assert.Equal(t, []uint16{1500, 65535}, f.Uint16())
	assert.Equal(t, int64(7), f.Seq())

	img, err := f.Image()
	require.NoError(t, err)
	assert.Equal(t, color.Gray16{Y: 1500}, img.(*image.Gray16).Gray16At(0, 0))

	_, err = f.Interleaved()
	assert.Error(t, err)

	gray := &ImgFrame{Width: 1, Height: 1, Type: FrameGray8, Data: []byte{42}}
	assert.Nil(t, gray.Uint16())
	img, err = gray.Image()
	require.NoError(t, err)
	assert.Equal(t, uint8(42), img.(*image.Gray).GrayAt(0, 0).Y)
}

func TestLabels(t *testing.T) {
	assert.Len(t, LabelsYOLO, 80)
	assert.Len(t, LabelsMobileNet, 21)
	assert.Equal(t, "person", LabelsYOLO.Name(0))
	assert.Equal(t, "toothbrush", LabelsYOLO.Name(79))
	assert.Equal(t, "person", LabelsMobileNet.Name(15))
	assert.Equal(t, "80", LabelsYOLO.Name(80))
	assert.Equal(t, "-1", LabelsMobileNet.Name(-1))
}

func TestOverlayColor(t *testing.T) {
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, ColorGreen.RGBA())
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, ColorBlue.RGBA())
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, ColorRed.RGBA())
	assert.Equal(t, ColorGreen.RGBA(), OverlayColor("Magenta").RGBA())
}

func TestResolve(t *testing.T) {
	dets := []SpatialDetection{{
		Label: 2, Confidence: 0.7, XMin: 0.1, YMin: 0.2, XMax: 0.3, YMax: 0.4,
		Spatial: Point3f{Z: 2000},
	}}
	res := Resolve(dets, LabelsYOLO)
	require.Len(t, res, 1)
	assert.Equal(t, "car", res[0].Label)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, res[0].Box)
	assert.Equal(t, float32(2000), res[0].Spatial.Z)

	assert.Equal(t, Box{X1: 64, Y1: 80, X2: 192, Y2: 160}, dets[0].Denormalize(640, 400))
}
