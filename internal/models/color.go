package models

import "image/color"

type OverlayColor string

const (
	ColorGreen OverlayColor = "Green"
	ColorBlue  OverlayColor = "Blue"
	ColorRed   OverlayColor = "Red"
)

var OverlayColorsList = [...]string{
	string(ColorGreen),
	string(ColorBlue),
	string(ColorRed),
}

// RGBA returns the drawing color. Unknown names draw green.
func (c OverlayColor) RGBA() color.RGBA {
	switch c {
	case ColorBlue:
		return color.RGBA{0, 0, 255, 255}
	case ColorRed:
		return color.RGBA{255, 0, 0, 255}
	default:
		return color.RGBA{0, 255, 0, 255}
	}
}
