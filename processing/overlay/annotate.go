package overlay

import (
	"fmt"
	"image"

	"depthview/internal/models"
)

// Style selects which text goes next to a box.
type Style int

const (
	// StyleSpatial writes "label: conf" above the box and X, Y, Z lines inside it.
	StyleSpatial Style = iota
	// StyleDepth writes only "Depth: N mm" above the box.
	StyleDepth
)

// Text offsets from the top-left box corner, in pixels.
const (
	labelOffset = -10
	lineSpacing = 15
)

// Line is one text item; At is the baseline origin.
type Line struct {
	Text string
	At   image.Point
}

type Annotation struct {
	Box   image.Rectangle
	Lines []Line
}

// Annotate lays out one detection on a width x height frame.
func Annotate(det models.SpatialDetection, width, height int, labels models.LabelMap, style Style) Annotation {
	b := det.Denormalize(width, height)
	a := Annotation{Box: image.Rect(b.X1, b.Y1, b.X2, b.Y2)}
	above := image.Pt(b.X1, b.Y1+labelOffset)

	switch style {
	case StyleDepth:
		a.Lines = []Line{{Text: fmt.Sprintf("Depth: %d mm", int(det.Spatial.Z)), At: above}}
	default:
		a.Lines = []Line{
			{Text: fmt.Sprintf("%s: %.2f", labels.Name(det.Label), det.Confidence), At: above},
			{Text: fmt.Sprintf("X: %d mm", int(det.Spatial.X)), At: image.Pt(b.X1, b.Y1+lineSpacing)},
			{Text: fmt.Sprintf("Y: %d mm", int(det.Spatial.Y)), At: image.Pt(b.X1, b.Y1+2*lineSpacing)},
			{Text: fmt.Sprintf("Z: %d mm", int(det.Spatial.Z)), At: image.Pt(b.X1, b.Y1+3*lineSpacing)},
		}
	}
	return a
}

func AnnotateAll(dets []models.SpatialDetection, width, height int, labels models.LabelMap, style Style) []Annotation {
	out := make([]Annotation, 0, len(dets))
	for _, d := range dets {
		out = append(out, Annotate(d, width, height, labels, style))
	}
	return out
}
