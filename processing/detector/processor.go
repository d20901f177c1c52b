package detector

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/internal/config"
	"depthview/internal/models"
	"depthview/processing/device"
	"depthview/processing/overlay"
)

type Mode int

const (
	// PollAll takes one message from every queue once all of them have one.
	PollAll Mode = iota
	// Sequential waits on each queue in turn.
	Sequential
)

const (
	defaultPollInterval = time.Millisecond
	resultBuffer        = 2
)

// Queues are the streams one display iteration consumes. Depth may be nil.
type Queues struct {
	Frame      *device.Queue
	Detections *device.Queue
	Depth      *device.Queue
}

func (q Queues) list() []*device.Queue {
	out := []*device.Queue{q.Frame, q.Detections}
	if q.Depth != nil {
		out = append(out, q.Depth)
	}
	return out
}

type Options struct {
	Mode   Mode
	Style  overlay.Style
	Labels models.LabelMap

	// DrawOverlay paints boxes and text onto Result.Frame. Without it only
	// Result.Annotations are filled.
	DrawOverlay bool

	// DisparityMax > 0 treats the depth stream as disparity scaled by
	// 255/DisparityMax. Otherwise depth in [DepthLower, DepthUpper] mm is used.
	DisparityMax float64
	DepthLower   float64
	DepthUpper   float64
	// ColorizeDepth maps the 8-bit depth onto a hue ramp.
	ColorizeDepth bool

	PollInterval time.Duration
}

// Result is one displayed iteration.
type Result struct {
	Seq         int64
	Frame       *image.RGBA
	Annotations []overlay.Annotation
	Detections  []models.DetectionResult
	// DepthGray is the 8-bit depth at stream resolution; Depth is the display
	// version sized to Frame.
	DepthGray *image.Gray
	Depth     image.Image
}

type Stats struct {
	FPS     uint
	Latency time.Duration
	Frames  uint64
}

// Processor turns queue messages into annotated frames. A Processor runs once.
type Processor struct {
	OutImageStream chan Result

	cfg    *config.Config
	queues Queues
	opts   Options
	log    *zap.SugaredLogger

	mu          sync.RWMutex
	stats       Stats
	lastResults []models.DetectionResult
	active      bool
	err         error

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewProcessor(cfg *config.Config, queues Queues, opts Options, log *zap.SugaredLogger) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Processor{
		OutImageStream: make(chan Result, resultBuffer),
		cfg:            cfg,
		queues:         queues,
		opts:           opts,
		log:            log,
		done:           make(chan struct{}),
	}
}

// Start launches the display loop. Calls after the first are ignored.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.active = true
		p.mu.Unlock()
		go p.run(ctx)
	})
}

// Stop ends the loop and waits for it. It is safe to call more than once and
// before Start.
func (p *Processor) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-p.done
}

// Done is closed when the loop has exited.
func (p *Processor) Done() <-chan struct{} { return p.done }

// Err returns the error that ended the loop, if any.
func (p *Processor) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Processor) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// LastDetections returns the detections of the latest displayed frame.
func (p *Processor) LastDetections() []models.DetectionResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResults
}

type messageSet struct {
	frame *models.ImgFrame
	dets  *models.SpatialImgDetections
	depth *models.ImgFrame
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.OutImageStream)
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	var tick <-chan time.Time
	if p.opts.Mode == PollAll {
		ticker := time.NewTicker(p.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var frameCount uint
	lastFpsUpdate := time.Now()

	for {
		var set messageSet
		var err error
		if p.opts.Mode == PollAll {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
			var ready bool
			if set, ready, err = p.poll(); err == nil && !ready {
				continue
			}
		} else {
			set, err = p.next(ctx)
		}
		if err != nil {
			if ctx.Err() == nil {
				p.fail(err)
			}
			return
		}

		start := time.Now()
		res, err := p.process(set)
		if err != nil {
			p.fail(err)
			return
		}

		select {
		case p.OutImageStream <- res:
		default:
		}

		frameCount++
		p.mu.Lock()
		p.lastResults = res.Detections
		p.stats.Latency = time.Since(start)
		p.stats.Frames++
		if time.Since(lastFpsUpdate) >= time.Second {
			p.stats.FPS = frameCount
			frameCount = 0
			lastFpsUpdate = time.Now()
		}
		p.mu.Unlock()
	}
}

func (p *Processor) fail(err error) {
	p.log.Errorw("display loop stopped", "error", err)
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// poll takes one message per queue once every queue has one.
func (p *Processor) poll() (messageSet, bool, error) {
	queues := p.queues.list()
	for _, q := range queues {
		if q.Closed() {
			return messageSet{}, false, errors.Wrap(device.ErrQueueClosed, q.Name())
		}
	}
	for _, q := range queues {
		if !q.Has() {
			return messageSet{}, false, nil
		}
	}

	var set messageSet
	var err error
	if set.frame, err = take[*models.ImgFrame](p.queues.Frame); err != nil {
		return set, false, err
	}
	if set.dets, err = take[*models.SpatialImgDetections](p.queues.Detections); err != nil {
		return set, false, err
	}
	if p.queues.Depth != nil {
		if set.depth, err = take[*models.ImgFrame](p.queues.Depth); err != nil {
			return set, false, err
		}
	}
	return set, true, nil
}

func take[T models.Message](q *device.Queue) (T, error) {
	var zero T
	m, ok := q.TryGet()
	if !ok {
		return zero, errors.Errorf("stream %q emptied while polling", q.Name())
	}
	v, ok := m.(T)
	if !ok {
		return zero, errors.Errorf("stream %q carried %T, want %T", q.Name(), m, zero)
	}
	return v, nil
}

func (p *Processor) next(ctx context.Context) (messageSet, error) {
	var set messageSet
	var err error
	if set.frame, err = device.Next[*models.ImgFrame](ctx, p.queues.Frame); err != nil {
		return set, err
	}
	if set.dets, err = device.Next[*models.SpatialImgDetections](ctx, p.queues.Detections); err != nil {
		return set, err
	}
	if p.queues.Depth != nil {
		if set.depth, err = device.Next[*models.ImgFrame](ctx, p.queues.Depth); err != nil {
			return set, err
		}
	}
	return set, nil
}

func (p *Processor) process(set messageSet) (Result, error) {
	img, err := set.frame.Image()
	if err != nil {
		return Result{}, errors.Wrap(err, "decode frame")
	}
	frame := overlay.ToRGBA(img)
	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()

	res := Result{Seq: set.frame.Sequence, Frame: frame}
	if set.dets != nil {
		res.Annotations = overlay.AnnotateAll(set.dets.Detections, w, h, p.opts.Labels, p.opts.Style)
		res.Detections = models.Resolve(set.dets.Detections, p.opts.Labels)
	}
	if p.opts.DrawOverlay {
		overlay.Draw(frame, res.Annotations, models.OverlayColor(p.cfg.GetOverlayColor()).RGBA())
	}

	if set.depth != nil {
		gray, err := p.scaleDepth(set.depth)
		if err != nil {
			return Result{}, errors.Wrap(err, "scale depth")
		}
		res.DepthGray = gray
		var display image.Image = gray
		if p.opts.ColorizeDepth {
			display = overlay.Colorize(gray)
		}
		res.Depth = overlay.Fit(display, w, h)
	}
	return res, nil
}

func (p *Processor) scaleDepth(f *models.ImgFrame) (*image.Gray, error) {
	if p.opts.DisparityMax > 0 {
		return overlay.ScaleDisparity(f, p.opts.DisparityMax)
	}
	return overlay.ScaleDepth(f, p.opts.DepthLower, p.opts.DepthUpper)
}
