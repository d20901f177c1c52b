package pipeline

import (
	"github.com/pkg/errors"
)

type BoardSocket string

const (
	SocketAuto BoardSocket = "AUTO"
	SocketCamA BoardSocket = "CAM_A"
	SocketCamB BoardSocket = "CAM_B"
	SocketCamC BoardSocket = "CAM_C"
)

// Legacy socket names.
const (
	SocketRGB   = SocketCamA
	SocketLeft  = SocketCamB
	SocketRight = SocketCamC
)

type ColorResolution string

const (
	Color720P  ColorResolution = "720p"
	Color1080P ColorResolution = "1080p"
	Color4K    ColorResolution = "4k"
)

// Size returns the sensor output size in pixels.
func (r ColorResolution) Size() (int, int, error) {
	switch r {
	case Color720P:
		return 1280, 720, nil
	case Color1080P:
		return 1920, 1080, nil
	case Color4K:
		return 3840, 2160, nil
	}
	return 0, 0, errors.Errorf("unknown color resolution %q", r)
}

type MonoResolution string

const (
	Mono400P MonoResolution = "400p"
	Mono480P MonoResolution = "480p"
	Mono720P MonoResolution = "720p"
	Mono800P MonoResolution = "800p"
)

func (r MonoResolution) Size() (int, int, error) {
	switch r {
	case Mono400P:
		return 640, 400, nil
	case Mono480P:
		return 640, 480, nil
	case Mono720P:
		return 1280, 720, nil
	case Mono800P:
		return 1280, 800, nil
	}
	return 0, 0, errors.Errorf("unknown mono resolution %q", r)
}

type ColorOrder string

const (
	OrderBGR ColorOrder = "BGR"
	OrderRGB ColorOrder = "RGB"
)

type ColorCameraProperties struct {
	Socket        BoardSocket     `cbor:"socket"`
	Resolution    ColorResolution `cbor:"resolution"`
	PreviewWidth  int             `cbor:"preview_w"`
	PreviewHeight int             `cbor:"preview_h"`
	Interleaved   bool            `cbor:"interleaved"`
	Order         ColorOrder      `cbor:"order"`
	FPS           float64         `cbor:"fps"`
}

func (ColorCameraProperties) Kind() Kind { return KindColorCamera }

func (p ColorCameraProperties) Validate() error {
	if _, _, err := p.Resolution.Size(); err != nil {
		return err
	}
	if p.PreviewWidth <= 0 || p.PreviewHeight <= 0 {
		return errors.Errorf("invalid preview size %dx%d", p.PreviewWidth, p.PreviewHeight)
	}
	return validateFPS(p.FPS)
}

type MonoCameraProperties struct {
	Socket     BoardSocket    `cbor:"socket"`
	Resolution MonoResolution `cbor:"resolution"`
	FPS        float64        `cbor:"fps"`
}

func (MonoCameraProperties) Kind() Kind { return KindMonoCamera }

func (p MonoCameraProperties) Validate() error {
	if _, _, err := p.Resolution.Size(); err != nil {
		return err
	}
	if p.Socket == "" {
		return errors.New("mono camera needs a board socket")
	}
	return validateFPS(p.FPS)
}

// MaxCameraFPS is the highest sensor rate a camera node accepts.
const MaxCameraFPS = 120

// validateFPS accepts 0 (sensor default) up to MaxCameraFPS.
func validateFPS(fps float64) error {
	if fps < 0 || fps > MaxCameraFPS {
		return errors.Errorf("fps %v outside [0,%d]", fps, MaxCameraFPS)
	}
	return nil
}

type PresetMode string

const (
	PresetHighAccuracy PresetMode = "HIGH_ACCURACY"
	PresetHighDensity  PresetMode = "HIGH_DENSITY"
)

const baseMaxDisparity = 95

type StereoDepthProperties struct {
	Preset            PresetMode  `cbor:"preset"`
	LeftRightCheck    bool        `cbor:"lr_check"`
	Subpixel          bool        `cbor:"subpixel"`
	ExtendedDisparity bool        `cbor:"extended"`
	DepthAlign        BoardSocket `cbor:"align"`
	OutputWidth       int         `cbor:"out_w"`
	OutputHeight      int         `cbor:"out_h"`
}

func (StereoDepthProperties) Kind() Kind { return KindStereoDepth }

func (p StereoDepthProperties) Validate() error {
	switch p.Preset {
	case "", PresetHighAccuracy, PresetHighDensity:
	default:
		return errors.Errorf("unknown stereo preset %q", p.Preset)
	}
	if (p.OutputWidth == 0) != (p.OutputHeight == 0) || p.OutputWidth < 0 || p.OutputHeight < 0 {
		return errors.Errorf("invalid stereo output size %dx%d", p.OutputWidth, p.OutputHeight)
	}
	return nil
}

// MaxDisparity is the largest value the disparity output can carry.
// Subpixel mode uses 3 fractional bits.
func (p StereoDepthProperties) MaxDisparity() float64 {
	d := float64(baseMaxDisparity)
	if p.ExtendedDisparity {
		d *= 2
	}
	if p.Subpixel {
		d *= 8
	}
	return d
}

type ImageManipProperties struct {
	ResizeWidth        int  `cbor:"resize_w"`
	ResizeHeight       int  `cbor:"resize_h"`
	KeepAspectRatio    bool `cbor:"keep_aspect"`
	MaxOutputFrameSize int  `cbor:"max_out"`
}

func (ImageManipProperties) Kind() Kind { return KindImageManip }

func (p ImageManipProperties) Validate() error {
	if p.ResizeWidth <= 0 || p.ResizeHeight <= 0 {
		return errors.Errorf("invalid resize %dx%d", p.ResizeWidth, p.ResizeHeight)
	}
	if p.MaxOutputFrameSize > 0 && p.MaxOutputFrameSize < p.ResizeWidth*p.ResizeHeight*3 {
		return errors.Errorf("max output frame size %d is smaller than a %dx%d BGR frame",
			p.MaxOutputFrameSize, p.ResizeWidth, p.ResizeHeight)
	}
	return nil
}

type NetworkFamily string

const (
	FamilyYOLO      NetworkFamily = "yolo"
	FamilyMobileNet NetworkFamily = "mobilenet"
)

type SpatialDetectionNetworkProperties struct {
	Family                 NetworkFamily `cbor:"family"`
	BlobPath               string        `cbor:"blob"`
	ConfidenceThreshold    float32       `cbor:"conf"`
	InputBlocking          bool          `cbor:"input_blocking"`
	BoundingBoxScaleFactor float32       `cbor:"bbox_scale"`
	DepthLowerThreshold    uint32        `cbor:"depth_lo"`
	DepthUpperThreshold    uint32        `cbor:"depth_hi"`

	// YOLO decoding.
	NumClasses     int              `cbor:"classes,omitempty"`
	CoordinateSize int              `cbor:"coords,omitempty"`
	Anchors        []float32        `cbor:"anchors,omitempty"`
	AnchorMasks    map[string][]int `cbor:"masks,omitempty"`
	IOUThreshold   float32          `cbor:"iou,omitempty"`
}

func (SpatialDetectionNetworkProperties) Kind() Kind { return KindSpatialDetectionNetwork }

func (p SpatialDetectionNetworkProperties) Validate() error {
	if p.BlobPath == "" {
		return errors.New("detection network needs a blob path")
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %v outside [0,1]", p.ConfidenceThreshold)
	}
	if p.BoundingBoxScaleFactor <= 0 || p.BoundingBoxScaleFactor > 1 {
		return errors.Errorf("bounding box scale factor %v outside (0,1]", p.BoundingBoxScaleFactor)
	}
	if p.DepthLowerThreshold >= p.DepthUpperThreshold {
		return errors.Errorf("depth thresholds %d..%d are empty", p.DepthLowerThreshold, p.DepthUpperThreshold)
	}

	switch p.Family {
	case FamilyMobileNet:
		return nil
	case FamilyYOLO:
	default:
		return errors.Errorf("unknown network family %q", p.Family)
	}

	if p.NumClasses <= 0 {
		return errors.New("yolo network needs a class count")
	}
	if p.CoordinateSize <= 0 {
		return errors.New("yolo network needs a coordinate size")
	}
	if len(p.Anchors)%2 != 0 {
		return errors.Errorf("yolo anchors must be pairs, got %d values", len(p.Anchors))
	}
	if p.IOUThreshold < 0 || p.IOUThreshold > 1 {
		return errors.Errorf("iou threshold %v outside [0,1]", p.IOUThreshold)
	}
	pairs := len(p.Anchors) / 2
	for side, mask := range p.AnchorMasks {
		for _, idx := range mask {
			if idx < 0 || idx >= pairs {
				return errors.Errorf("anchor mask %s references anchor %d of %d", side, idx, pairs)
			}
		}
	}
	return nil
}

type XLinkOutProperties struct {
	StreamName string  `cbor:"stream"`
	FPSLimit   float64 `cbor:"fps_limit,omitempty"`
}

func (XLinkOutProperties) Kind() Kind { return KindXLinkOut }

func (p XLinkOutProperties) Validate() error {
	if p.StreamName == "" {
		return errors.New("xlink out needs a stream name")
	}
	return nil
}
