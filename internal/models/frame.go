package models

import (
	"encoding/binary"
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// Message is anything a device output queue carries.
type Message interface {
	Seq() int64
	Time() time.Duration
}

type FrameType string

// MaxFrameSide bounds frame width and height. It is above the largest sensor
// resolution (4208x3120) and keeps size arithmetic far from overflow.
const MaxFrameSide = 1 << 14

const (
	FrameBGR888p FrameType = "BGR888p"
	FrameBGR888i FrameType = "BGR888i"
	FrameGray8   FrameType = "GRAY8"
	FrameRaw16   FrameType = "RAW16"
)

// BytesPerPixel returns 0 for unknown types.
func (t FrameType) BytesPerPixel() int {
	switch t {
	case FrameBGR888p, FrameBGR888i:
		return 3
	case FrameGray8:
		return 1
	case FrameRaw16:
		return 2
	}
	return 0
}

// ImgFrame is a color, mono, depth or disparity frame as delivered by the device.
// It is only valid until the next frame from the same queue is displayed.
type ImgFrame struct {
	Sequence  int64         `cbor:"seq"`
	Timestamp time.Duration `cbor:"ts"`
	Width     int           `cbor:"w"`
	Height    int           `cbor:"h"`
	Type      FrameType     `cbor:"type"`
	Data      []byte        `cbor:"data"`
}

func (f *ImgFrame) Seq() int64          { return f.Sequence }
func (f *ImgFrame) Time() time.Duration { return f.Timestamp }

// Check reports whether Data matches the declared geometry.
func (f *ImgFrame) Check() error {
	bpp := f.Type.BytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("unknown frame type %q", f.Type)
	}
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxFrameSide || f.Height > MaxFrameSide {
		return errors.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * bpp; len(f.Data) != want {
		return errors.Errorf("frame data is %d bytes, want %d", len(f.Data), want)
	}
	return nil
}

// Uint16 returns RAW16 samples, row-major.
func (f *ImgFrame) Uint16() []uint16 {
	if f.Type != FrameRaw16 {
		return nil
	}
	out := make([]uint16, len(f.Data)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(f.Data[2*i:])
	}
	return out
}

// NewRaw16Frame packs samples little-endian.
func NewRaw16Frame(seq int64, ts time.Duration, width, height int, samples []uint16) *ImgFrame {
	data := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return &ImgFrame{Sequence: seq, Timestamp: ts, Width: width, Height: height, Type: FrameRaw16, Data: data}
}

// Image converts the frame into a Go image. Color frames become *image.RGBA.
func (f *ImgFrame) Image() (image.Image, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	n := f.Width * f.Height

	switch f.Type {
	case FrameBGR888i:
		img := image.NewRGBA(rect)
		for i := 0; i < n; i++ {
			img.Pix[4*i+0] = f.Data[3*i+2]
			img.Pix[4*i+1] = f.Data[3*i+1]
			img.Pix[4*i+2] = f.Data[3*i+0]
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	case FrameBGR888p:
		img := image.NewRGBA(rect)
		b, g, r := f.Data[:n], f.Data[n:2*n], f.Data[2*n:]
		for i := 0; i < n; i++ {
			img.Pix[4*i+0] = r[i]
			img.Pix[4*i+1] = g[i]
			img.Pix[4*i+2] = b[i]
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	case FrameGray8:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data)
		return img, nil
	default:
		img := image.NewGray16(rect)
		for i, v := range f.Uint16() {
			img.SetGray16(i%f.Width, i/f.Width, color.Gray16{Y: v})
		}
		return img, nil
	}
}

// Interleaved returns BGR interleaved bytes for color frames, the layout OpenCV expects.
func (f *ImgFrame) Interleaved() ([]byte, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	switch f.Type {
	case FrameBGR888i:
		return f.Data, nil
	case FrameBGR888p:
		n := f.Width * f.Height
		out := make([]byte, 3*n)
		for i := 0; i < n; i++ {
			out[3*i+0] = f.Data[i]
			out[3*i+1] = f.Data[n+i]
			out[3*i+2] = f.Data[2*n+i]
		}
		return out, nil
	}
	return nil, errors.Errorf("frame type %q is not color", f.Type)
}
