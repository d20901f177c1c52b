package detector

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"depthview/internal/config"
	"depthview/processing/device"
	"depthview/processing/overlay"
	"depthview/processing/pipeline"
)

// Session is a running model: its device and the display loop reading it.
type Session struct {
	Model     pipeline.Model
	Device    *device.Device
	Processor *Processor

	done chan struct{}
	err  error
}

// OptionsFor derives display options from a built model pipeline. Models whose
// third stream is disparity are drawn in depth-only style.
func OptionsFor(m pipeline.Model, p *pipeline.Pipeline, mode Mode) Options {
	opts := Options{
		Mode:          mode,
		Style:         overlay.StyleSpatial,
		Labels:        m.Labels,
		DrawOverlay:   true,
		ColorizeDepth: true,
	}
	if nn, ok := p.Network(); ok {
		opts.DepthLower = float64(nn.DepthLowerThreshold)
		opts.DepthUpper = float64(nn.DepthUpperThreshold)
	}
	if m.Streams[2] == pipeline.StreamDisparity {
		stereo, _ := p.Stereo()
		opts.DisparityMax = stereo.MaxDisparity()
		opts.Style = overlay.StyleDepth
		opts.ColorizeDepth = false
	}
	return opts
}

// Option adjusts the display options StartSession derives.
type Option func(*Options)

// WithoutOverlay leaves frames unpainted for callers that draw Result.Annotations
// themselves.
func WithoutOverlay() Option {
	return func(o *Options) { o.DrawOverlay = false }
}

// StartSession builds the named model from cfg, opens it on src and starts the
// display loop.
func StartSession(ctx context.Context, cfg *config.Config, src device.Source, model string, mode Mode, log *zap.SugaredLogger, opts ...Option) (*Session, error) {
	m, err := pipeline.Lookup(model)
	if err != nil {
		return nil, err
	}
	p, err := m.Build(pipeline.Options{
		BlobPath:   cfg.BlobFor(m.Name),
		Confidence: pipeline.Threshold(cfg.GetConfidence()),
		SyncNN:     cfg.SyncNN,
		FPS:        float64(cfg.GetFPS()),
	})
	if err != nil {
		return nil, err
	}

	log = log.With("model", m.Name)
	dev, err := device.Open(ctx, src, p, log)
	if err != nil {
		return nil, err
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = device.DefaultQueueSize
	}
	var qs [3]*device.Queue
	for i, name := range m.Streams {
		if qs[i], err = dev.OutputQueue(name, size, false); err != nil {
			return nil, multierr.Append(err, dev.Close())
		}
	}

	procOpts := OptionsFor(m, p, mode)
	for _, o := range opts {
		o(&procOpts)
	}

	s := &Session{
		Model:     m,
		Device:    dev,
		Processor: NewProcessor(cfg, Queues{Frame: qs[0], Detections: qs[1], Depth: qs[2]}, procOpts, log),
		done:      make(chan struct{}),
	}
	s.Processor.Start(ctx)
	go s.watch()
	return s, nil
}

// watch records why the display loop ended. A loop stopped by closed queues
// reports the device error behind them.
func (s *Session) watch() {
	defer close(s.done)
	<-s.Processor.Done()

	err := s.Processor.Err()
	if errors.Is(err, device.ErrQueueClosed) {
		if devErr := s.Device.Err(); devErr != nil {
			err = devErr
		}
	}
	s.err = err
}

// Done is closed when the display loop has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is valid after Done.
func (s *Session) Err() error { return s.err }

// Close stops the display loop and the device.
func (s *Session) Close() error {
	s.Processor.Stop()
	return s.Device.Close()
}
