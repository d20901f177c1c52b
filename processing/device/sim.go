package device

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"depthview/internal/models"
	"depthview/processing/pipeline"
)

const (
	simDefaultFPS     = 30
	simMaxFPS         = 1000
	simDefaultObjects = 3
	// Stereo geometry of a 400p OAK-D class module.
	simHFOV        = 71.9 * math.Pi / 180
	simBaselineMM  = 75.0
	simBackgroundZ = 6500.0
)

type SimConfig struct {
	FPS     float64
	Objects int
	Seed    int64
}

// SimSource runs pipelines against a synthetic scene: a few boxes drifting in
// front of a sloped wall. Every output tap is rendered in the shape the node it is
// linked to would produce.
type SimSource struct {
	cfg SimConfig
}

func NewSimSource(cfg SimConfig) *SimSource {
	if cfg.FPS <= 0 {
		cfg.FPS = simDefaultFPS
	}
	if cfg.Objects <= 0 {
		cfg.Objects = simDefaultObjects
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &SimSource{cfg: cfg}
}

type tapKind int

const (
	tapColor tapKind = iota
	tapGray
	tapDepth
	tapDisparity
	tapDetections
)

type simTap struct {
	stream string
	kind   tapKind
	width  int
	height int
	frame  models.FrameType
}

type simObject struct {
	label          int
	cx, cy, w, h   float64
	vx, vy         float64
	z, vz          float64
	confidence     float32
	colorR, colorG uint8
}

type simConn struct {
	taps     []simTap
	nn       pipeline.SpatialDetectionNetworkProperties
	stereo   pipeline.StereoDepthProperties
	objects  []*simObject
	interval time.Duration
	ticker   *time.Ticker
	seq      int64
	pending  []Packet
}

func (s *SimSource) Connect(ctx context.Context, _ uuid.UUID, p *pipeline.Pipeline) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Cameras that ask for a rate override the simulator's default tick.
	fps := s.cfg.FPS
	if camFPS := p.CameraFPS(); camFPS > 0 {
		fps = camFPS
	}
	c := &simConn{interval: frameInterval(fps)}
	c.nn, _ = p.Network()
	c.stereo, _ = p.Stereo()

	for _, stream := range p.Streams() {
		from, err := p.Source(stream)
		if err != nil {
			return nil, err
		}
		tap, err := resolveTap(p, from)
		if err != nil {
			return nil, errors.Wrapf(err, "stream %q", stream)
		}
		tap.stream = stream
		c.taps = append(c.taps, tap)
	}

	c.objects = newScene(rand.New(rand.NewSource(s.cfg.Seed)), s.cfg.Objects, c.nn)
	c.ticker = time.NewTicker(c.interval)
	return c, nil
}

// frameInterval bounds fps to (0, simMaxFPS] so the ticker period stays positive.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 || math.IsNaN(fps) {
		fps = simDefaultFPS
	}
	fps = math.Min(fps, simMaxFPS)
	return time.Duration(float64(time.Second) / fps)
}

// resolveTap describes what an output port emits, following passthroughs upstream.
func resolveTap(p *pipeline.Pipeline, port pipeline.Port) (simTap, error) {
	node := p.Node(port.Node)
	switch props := node.Props.(type) {
	case pipeline.ColorCameraProperties:
		t := simTap{kind: tapColor, frame: models.FrameBGR888p}
		if props.Interleaved {
			t.frame = models.FrameBGR888i
		}
		if port.Name == pipeline.PortPreview {
			t.width, t.height = props.PreviewWidth, props.PreviewHeight
			return t, nil
		}
		w, h, err := props.Resolution.Size()
		t.width, t.height = w, h
		return t, err

	case pipeline.MonoCameraProperties:
		w, h, err := props.Resolution.Size()
		return simTap{kind: tapGray, width: w, height: h, frame: models.FrameGray8}, err

	case pipeline.ImageManipProperties:
		return simTap{kind: tapColor, width: props.ResizeWidth, height: props.ResizeHeight, frame: models.FrameBGR888p}, nil

	case pipeline.StereoDepthProperties:
		w, h := props.OutputWidth, props.OutputHeight
		if w == 0 {
			left, ok := p.Upstream(node, pipeline.PortLeft)
			if !ok {
				return simTap{}, errors.New("stereo left input not linked")
			}
			mono, err := resolveTap(p, left)
			if err != nil {
				return simTap{}, err
			}
			w, h = mono.width, mono.height
		}
		switch port.Name {
		case pipeline.PortDepth:
			return simTap{kind: tapDepth, width: w, height: h, frame: models.FrameRaw16}, nil
		case pipeline.PortDisparity:
			t := simTap{kind: tapDisparity, width: w, height: h, frame: models.FrameGray8}
			if props.MaxDisparity() > 255 {
				t.frame = models.FrameRaw16
			}
			return t, nil
		}
		return simTap{kind: tapGray, width: w, height: h, frame: models.FrameGray8}, nil

	case pipeline.SpatialDetectionNetworkProperties:
		switch port.Name {
		case pipeline.PortOut:
			return simTap{kind: tapDetections}, nil
		case pipeline.PortPassthrough:
			up, ok := p.Upstream(node, pipeline.PortInput)
			if !ok {
				return simTap{}, errors.New("network input not linked")
			}
			return resolveTap(p, up)
		case pipeline.PortPassthroughDepth:
			up, ok := p.Upstream(node, pipeline.PortInputDepth)
			if !ok {
				return simTap{}, errors.New("network depth input not linked")
			}
			return resolveTap(p, up)
		}
	}
	return simTap{}, errors.Errorf("cannot simulate %s", port)
}

func newScene(rng *rand.Rand, n int, nn pipeline.SpatialDetectionNetworkProperties) []*simObject {
	lo, hi := 0, 80
	switch {
	case nn.Family == pipeline.FamilyMobileNet:
		lo, hi = 1, len(models.LabelsMobileNet)
	case nn.NumClasses > 0:
		hi = nn.NumClasses
	}

	objects := make([]*simObject, n)
	for i := range objects {
		objects[i] = &simObject{
			label:      lo + rng.Intn(hi-lo),
			cx:         0.2 + 0.6*rng.Float64(),
			cy:         0.2 + 0.6*rng.Float64(),
			w:          0.12 + 0.15*rng.Float64(),
			h:          0.15 + 0.2*rng.Float64(),
			vx:         (rng.Float64() - 0.5) * 0.02,
			vy:         (rng.Float64() - 0.5) * 0.02,
			z:          800 + 4000*rng.Float64(),
			vz:         (rng.Float64() - 0.5) * 80,
			confidence: float32(0.55 + 0.4*rng.Float64()),
			colorR:     uint8(rng.Intn(256)),
			colorG:     uint8(rng.Intn(256)),
		}
	}
	return objects
}

func (o *simObject) step() {
	o.cx += o.vx
	o.cy += o.vy
	o.z += o.vz
	if o.cx-o.w/2 < 0 || o.cx+o.w/2 > 1 {
		o.vx = -o.vx
		o.cx = math.Max(o.w/2, math.Min(1-o.w/2, o.cx))
	}
	if o.cy-o.h/2 < 0 || o.cy+o.h/2 > 1 {
		o.vy = -o.vy
		o.cy = math.Max(o.h/2, math.Min(1-o.h/2, o.cy))
	}
	if o.z < 400 || o.z > 6000 {
		o.vz = -o.vz
		o.z = math.Max(400, math.Min(6000, o.z))
	}
}

func (o *simObject) contains(x, y float64) bool {
	return math.Abs(x-o.cx) <= o.w/2 && math.Abs(y-o.cy) <= o.h/2
}

// depthAt is the scene depth in millimeters at normalized (x, y).
func (c *simConn) depthAt(x, y float64) float64 {
	z := simBackgroundZ - 2500*y
	for _, o := range c.objects {
		if o.contains(x, y) && o.z < z {
			z = o.z
		}
	}
	return z
}

func (c *simConn) objectAt(x, y float64) *simObject {
	var best *simObject
	for _, o := range c.objects {
		if o.contains(x, y) && (best == nil || o.z < best.z) {
			best = o
		}
	}
	return best
}

func (c *simConn) Recv(ctx context.Context) (Packet, error) {
	for len(c.pending) == 0 {
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		case <-c.ticker.C:
		}
		c.seq++
		for _, o := range c.objects {
			o.step()
		}
		c.render()
	}

	pkt := c.pending[0]
	c.pending = c.pending[1:]
	return pkt, nil
}

func (c *simConn) Close() error {
	c.ticker.Stop()
	return nil
}

func (c *simConn) render() {
	ts := time.Duration(c.seq) * c.interval
	for _, tap := range c.taps {
		var msg models.Message
		switch tap.kind {
		case tapColor:
			msg = c.renderColor(tap, ts)
		case tapGray:
			msg = c.renderGray(tap, ts)
		case tapDepth:
			msg = c.renderDepth(tap, ts)
		case tapDisparity:
			msg = c.renderDisparity(tap, ts)
		case tapDetections:
			msg = c.detect(ts)
		}
		c.pending = append(c.pending, Packet{Stream: tap.stream, Msg: msg})
	}
}

func (c *simConn) renderColor(tap simTap, ts time.Duration) *models.ImgFrame {
	w, h := tap.width, tap.height
	n := w * h
	data := make([]byte, 3*n)
	for y := 0; y < h; y++ {
		ny := (float64(y) + 0.5) / float64(h)
		for x := 0; x < w; x++ {
			nx := (float64(x) + 0.5) / float64(w)
			b, g, r := uint8(255*nx), uint8(255*ny), uint8(64)
			if o := c.objectAt(nx, ny); o != nil {
				b, g, r = 255-o.colorR, o.colorG, o.colorR
			}
			i := y*w + x
			if tap.frame == models.FrameBGR888i {
				data[3*i], data[3*i+1], data[3*i+2] = b, g, r
			} else {
				data[i], data[n+i], data[2*n+i] = b, g, r
			}
		}
	}
	return &models.ImgFrame{Sequence: c.seq, Timestamp: ts, Width: w, Height: h, Type: tap.frame, Data: data}
}

func (c *simConn) renderGray(tap simTap, ts time.Duration) *models.ImgFrame {
	data := make([]byte, tap.width*tap.height)
	for y := 0; y < tap.height; y++ {
		for x := 0; x < tap.width; x++ {
			z := c.depthAt((float64(x)+0.5)/float64(tap.width), (float64(y)+0.5)/float64(tap.height))
			data[y*tap.width+x] = uint8(255 * (1 - z/(simBackgroundZ+1000)))
		}
	}
	return &models.ImgFrame{Sequence: c.seq, Timestamp: ts, Width: tap.width, Height: tap.height, Type: models.FrameGray8, Data: data}
}

func (c *simConn) renderDepth(tap simTap, ts time.Duration) *models.ImgFrame {
	samples := make([]uint16, tap.width*tap.height)
	for y := 0; y < tap.height; y++ {
		for x := 0; x < tap.width; x++ {
			samples[y*tap.width+x] = uint16(c.depthAt((float64(x)+0.5)/float64(tap.width), (float64(y)+0.5)/float64(tap.height)))
		}
	}
	return models.NewRaw16Frame(c.seq, ts, tap.width, tap.height, samples)
}

func focalPx(width int) float64 {
	return float64(width) / 2 / math.Tan(simHFOV/2)
}

func (c *simConn) renderDisparity(tap simTap, ts time.Duration) *models.ImgFrame {
	fx := focalPx(tap.width)
	maxD := c.stereo.MaxDisparity()
	scale := 1.0
	if c.stereo.Subpixel {
		scale = 8
	}

	samples := make([]uint16, tap.width*tap.height)
	for y := 0; y < tap.height; y++ {
		for x := 0; x < tap.width; x++ {
			z := c.depthAt((float64(x)+0.5)/float64(tap.width), (float64(y)+0.5)/float64(tap.height))
			d := math.Min(fx*simBaselineMM/z*scale, maxD)
			samples[y*tap.width+x] = uint16(d)
		}
	}

	if tap.frame == models.FrameRaw16 {
		return models.NewRaw16Frame(c.seq, ts, tap.width, tap.height, samples)
	}
	data := make([]byte, len(samples))
	for i, v := range samples {
		data[i] = uint8(v)
	}
	return &models.ImgFrame{Sequence: c.seq, Timestamp: ts, Width: tap.width, Height: tap.height, Type: models.FrameGray8, Data: data}
}

// detect reports objects above the confidence threshold. Spatial coordinates come
// from the mean in-range depth inside the box shrunk by the scale factor; with no
// valid depth they stay zero.
func (c *simConn) detect(ts time.Duration) *models.SpatialImgDetections {
	out := &models.SpatialImgDetections{Sequence: c.seq, Timestamp: ts}
	lo, hi := float64(c.nn.DepthLowerThreshold), float64(c.nn.DepthUpperThreshold)
	scale := float64(c.nn.BoundingBoxScaleFactor)
	if scale <= 0 {
		scale = 1
	}

	const grid = 8
	tanHalf := math.Tan(simHFOV / 2)
	for _, o := range c.objects {
		if o.confidence < c.nn.ConfidenceThreshold {
			continue
		}
		det := models.SpatialDetection{
			Label:      o.label,
			Confidence: o.confidence,
			XMin:       float32(o.cx - o.w/2),
			YMin:       float32(o.cy - o.h/2),
			XMax:       float32(o.cx + o.w/2),
			YMax:       float32(o.cy + o.h/2),
		}

		var sum float64
		var count int
		for i := 0; i < grid; i++ {
			for j := 0; j < grid; j++ {
				x := o.cx + o.w*scale*((float64(i)+0.5)/grid-0.5)
				y := o.cy + o.h*scale*((float64(j)+0.5)/grid-0.5)
				if z := c.depthAt(x, y); z >= lo && z <= hi {
					sum += z
					count++
				}
			}
		}
		if count > 0 {
			z := sum / float64(count)
			det.Spatial = models.Point3f{
				X: float32(z * tanHalf * (2*o.cx - 1)),
				Y: float32(z * tanHalf * (1 - 2*o.cy) * 400 / 640),
				Z: float32(z),
			}
		}
		out.Detections = append(out.Detections, det)
	}
	return out
}
