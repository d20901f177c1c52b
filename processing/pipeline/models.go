package pipeline

import (
	"github.com/pkg/errors"

	"depthview/internal/models"
)

// Output stream names.
const (
	StreamRGB        = "rgb"
	StreamDetections = "detections"
	StreamDepth      = "depth"

	StreamPreview   = "preview"
	StreamDetOut    = "det_out"
	StreamDisparity = "disparity"
)

const (
	ModelYOLOv8     = "yolov8"
	ModelMobileSSD  = "mobile-ssd"
	ModelStandalone = "standalone"

	DefaultConfidence = 0.5
)

var ErrUnknownModel = errors.New("unknown model")

// Options tune a model pipeline. Zero values take the model defaults.
type Options struct {
	BlobPath string
	// Confidence is the detection threshold; nil means DefaultConfidence.
	Confidence *float32
	// SyncNN taps the frame the network actually ran on instead of the live preview.
	SyncNN bool
	FPS    float64
}

// Threshold returns a Confidence option set to v. Zero is a valid threshold.
func Threshold(v float32) *float32 { return &v }

func (o Options) confidence() float32 {
	if o.Confidence == nil {
		return DefaultConfidence
	}
	return *o.Confidence
}

// Model describes one selectable detection setup.
type Model struct {
	Name        string
	Labels      models.LabelMap
	DefaultBlob string
	// Streams are the color, detection and depth taps, in that order.
	Streams [3]string
	build   func(Options) (*Pipeline, error)
}

// Build constructs and validates the pipeline for m.
func (m Model) Build(opts Options) (*Pipeline, error) {
	if opts.BlobPath == "" {
		opts.BlobPath = m.DefaultBlob
	}
	p, err := m.build(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s pipeline", m.Name)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "build %s pipeline", m.Name)
	}
	return p, nil
}

var registry = map[string]Model{
	ModelYOLOv8: {
		Name:        ModelYOLOv8,
		Labels:      models.LabelsYOLO,
		DefaultBlob: "models/yolov8n_openvino_2022.1_6shave.blob",
		Streams:     [3]string{StreamRGB, StreamDetections, StreamDepth},
		build:       buildYOLO,
	},
	ModelMobileSSD: {
		Name:        ModelMobileSSD,
		Labels:      models.LabelsMobileNet,
		DefaultBlob: "models/mobilenet-ssd_openvino_2021.2_6shave.blob",
		Streams:     [3]string{StreamRGB, StreamDetections, StreamDepth},
		build:       buildMobileNet,
	},
	ModelStandalone: {
		Name:        ModelStandalone,
		Labels:      models.LabelsYOLO,
		DefaultBlob: "models/yolov8n_openvino_2022.1_6shave.blob",
		Streams:     [3]string{StreamPreview, StreamDetOut, StreamDisparity},
		build:       buildStandalone,
	},
}

// Lookup returns the registered model called name.
func Lookup(name string) (Model, error) {
	m, ok := registry[name]
	if !ok {
		return Model{}, errors.Wrap(ErrUnknownModel, name)
	}
	return m, nil
}

// Names lists the models offered for interactive selection.
func Names() []string {
	return []string{ModelYOLOv8, ModelMobileSSD}
}

type linker struct {
	p   *Pipeline
	err error
}

func (l *linker) link(from, to Port) {
	if l.err == nil {
		l.err = l.p.Link(from, to)
	}
}

func yoloNetwork(opts Options) SpatialDetectionNetworkProperties {
	return SpatialDetectionNetworkProperties{
		Family:                 FamilyYOLO,
		BlobPath:               opts.BlobPath,
		ConfidenceThreshold:    opts.confidence(),
		InputBlocking:          true,
		BoundingBoxScaleFactor: 1,
		DepthLowerThreshold:    100,
		DepthUpperThreshold:    5000,
		NumClasses:             80,
		CoordinateSize:         4,
		Anchors:                []float32{10, 14, 23, 27, 37, 58, 81, 82, 135, 169, 344, 319},
		AnchorMasks: map[string][]int{
			"side26": {1, 2, 3},
			"side13": {3, 4, 5},
		},
		IOUThreshold: 0.5,
	}
}

func mobileNetwork(opts Options) SpatialDetectionNetworkProperties {
	return SpatialDetectionNetworkProperties{
		Family:                 FamilyMobileNet,
		BlobPath:               opts.BlobPath,
		ConfidenceThreshold:    opts.confidence(),
		InputBlocking:          false,
		BoundingBoxScaleFactor: 0.5,
		DepthLowerThreshold:    100,
		DepthUpperThreshold:    5000,
	}
}

func buildYOLO(opts Options) (*Pipeline, error) {
	return buildSpatial(opts, 640, yoloNetwork(opts))
}

func buildMobileNet(opts Options) (*Pipeline, error) {
	return buildSpatial(opts, 300, mobileNetwork(opts))
}

// buildSpatial wires color preview -> network and mono pair -> stereo -> network depth,
// tapping rgb, detections and depth.
func buildSpatial(opts Options, previewSize int, nnProps SpatialDetectionNetworkProperties) (*Pipeline, error) {
	p := New()

	camRgb := p.Create(ColorCameraProperties{
		Socket:        SocketCamA,
		Resolution:    Color1080P,
		PreviewWidth:  previewSize,
		PreviewHeight: previewSize,
		Interleaved:   false,
		Order:         OrderBGR,
		FPS:           opts.FPS,
	})
	nn := p.Create(nnProps)
	monoLeft := p.Create(MonoCameraProperties{Socket: SocketLeft, Resolution: Mono400P, FPS: opts.FPS})
	monoRight := p.Create(MonoCameraProperties{Socket: SocketRight, Resolution: Mono400P, FPS: opts.FPS})

	monoW, monoH, _ := Mono400P.Size()
	stereo := p.Create(StereoDepthProperties{
		Preset:       PresetHighDensity,
		Subpixel:     true,
		DepthAlign:   SocketCamA,
		OutputWidth:  monoW,
		OutputHeight: monoH,
	})

	xoutRgb := p.Create(XLinkOutProperties{StreamName: StreamRGB})
	xoutNN := p.Create(XLinkOutProperties{StreamName: StreamDetections})
	xoutDepth := p.Create(XLinkOutProperties{StreamName: StreamDepth})

	l := &linker{p: p}
	l.link(monoLeft.Out(PortOut), stereo.In(PortLeft))
	l.link(monoRight.Out(PortOut), stereo.In(PortRight))
	l.link(camRgb.Out(PortPreview), nn.In(PortInput))
	if opts.SyncNN {
		l.link(nn.Out(PortPassthrough), xoutRgb.In(PortInput))
	} else {
		l.link(camRgb.Out(PortPreview), xoutRgb.In(PortInput))
	}
	l.link(nn.Out(PortOut), xoutNN.In(PortInput))
	l.link(stereo.Out(PortDepth), nn.In(PortInputDepth))
	l.link(nn.Out(PortPassthroughDepth), xoutDepth.In(PortInput))

	return p, l.err
}

// buildStandalone resizes a 640x400 preview to the 640x640 network input and taps
// preview, det_out and disparity.
func buildStandalone(opts Options) (*Pipeline, error) {
	p := New()

	cam := p.Create(ColorCameraProperties{
		Socket:        SocketRGB,
		Resolution:    Color1080P,
		PreviewWidth:  640,
		PreviewHeight: 400,
		Interleaved:   false,
		Order:         OrderBGR,
		FPS:           opts.FPS,
	})
	monoLeft := p.Create(MonoCameraProperties{Socket: SocketLeft, Resolution: Mono400P, FPS: opts.FPS})
	monoRight := p.Create(MonoCameraProperties{Socket: SocketRight, Resolution: Mono400P, FPS: opts.FPS})
	stereo := p.Create(StereoDepthProperties{
		LeftRightCheck: true,
		DepthAlign:     SocketRGB,
	})
	nn := p.Create(yoloNetwork(opts))
	manip := p.Create(ImageManipProperties{
		ResizeWidth:        640,
		ResizeHeight:       640,
		KeepAspectRatio:    false,
		MaxOutputFrameSize: 1228800,
	})

	xoutPreview := p.Create(XLinkOutProperties{StreamName: StreamPreview})
	xoutDet := p.Create(XLinkOutProperties{StreamName: StreamDetOut})
	xoutDisparity := p.Create(XLinkOutProperties{StreamName: StreamDisparity})

	l := &linker{p: p}
	l.link(monoLeft.Out(PortOut), stereo.In(PortLeft))
	l.link(monoRight.Out(PortOut), stereo.In(PortRight))
	l.link(cam.Out(PortPreview), manip.In(PortInputImage))
	l.link(manip.Out(PortOut), nn.In(PortInput))
	l.link(stereo.Out(PortDepth), nn.In(PortInputDepth))
	l.link(cam.Out(PortPreview), xoutPreview.In(PortInput))
	l.link(nn.Out(PortOut), xoutDet.In(PortInput))
	l.link(stereo.Out(PortDisparity), xoutDisparity.In(PortInput))

	return p, l.err
}
