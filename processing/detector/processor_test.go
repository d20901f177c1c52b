package detector

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"depthview/internal/config"
	"depthview/internal/models"
	"depthview/processing/device"
	"depthview/processing/overlay"
)

func blackFrame(seq int64, w, h int) *models.ImgFrame {
	return &models.ImgFrame{Sequence: seq, Width: w, Height: h, Type: models.FrameBGR888i, Data: make([]byte, 3*w*h)}
}

func newQueues() Queues {
	return Queues{
		Frame:      device.NewQueue("rgb", 4, false),
		Detections: device.NewQueue("detections", 4, false),
		Depth:      device.NewQueue("depth", 4, false),
	}
}

func startProcessor(t *testing.T, cfg *config.Config, qs Queues, opts Options) *Processor {
	t.Helper()
	p := NewProcessor(cfg, qs, opts, zaptest.NewLogger(t).Sugar())
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func awaitResult(t *testing.T, p *Processor) Result {
	t.Helper()
	select {
	case res, ok := <-p.OutImageStream:
		require.True(t, ok, "result stream closed")
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	return Result{}
}

var cup = models.SpatialDetection{
	Label: 41, Confidence: 0.9,
	XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75,
	Spatial: models.Point3f{X: 10, Y: -20, Z: 950},
}

func TestPollAllWaitsForEveryQueue(t *testing.T) {
	ctx := context.Background()
	qs := newQueues()
	cfg := config.NewDefaultConfig()
	cfg.SetOverlayColor(string(models.ColorRed))

	p := startProcessor(t, cfg, qs, Options{
		Mode: PollAll, Labels: models.LabelsYOLO, DrawOverlay: true,
		DepthLower: 100, DepthUpper: 5000, ColorizeDepth: true,
	})

	require.NoError(t, qs.Frame.Put(ctx, blackFrame(1, 64, 64)))
	require.NoError(t, qs.Detections.Put(ctx, &models.SpatialImgDetections{Sequence: 1, Detections: []models.SpatialDetection{cup}}))

	select {
	case <-p.OutImageStream:
		t.Fatal("result produced before depth arrived")
	case <-time.After(50 * time.Millisecond):
	}

	depth := make([]uint16, 32*20)
	for i := range depth {
		depth[i] = 1000
	}
	require.NoError(t, qs.Depth.Put(ctx, models.NewRaw16Frame(1, 0, 32, 20, depth)))

	res := awaitResult(t, p)
	assert.Equal(t, int64(1), res.Seq)
	assert.Equal(t, image.Rect(0, 0, 64, 64), res.Frame.Bounds())
	require.Len(t, res.Annotations, 1)
	assert.Equal(t, image.Rect(16, 16, 48, 48), res.Annotations[0].Box)
	assert.Equal(t, "cup: 0.90", res.Annotations[0].Lines[0].Text)
	assert.NotZero(t, res.Frame.RGBAAt(16, 32).R)
	assert.Zero(t, res.Frame.RGBAAt(16, 32).G)

	require.NotNil(t, res.DepthGray)
	assert.Equal(t, image.Rect(0, 0, 32, 20), res.DepthGray.Bounds())
	assert.Equal(t, image.Rect(0, 0, 64, 64), res.Depth.Bounds())

	require.Eventually(t, func() bool { return p.Stats().Frames == 1 }, time.Second, 5*time.Millisecond)
	last := p.LastDetections()
	require.Len(t, last, 1)
	assert.Equal(t, "cup", last[0].Label)
}

func TestSequentialWithoutOverlay(t *testing.T) {
	ctx := context.Background()
	qs := newQueues()
	p := startProcessor(t, config.NewDefaultConfig(), qs, Options{
		Mode: Sequential, Labels: models.LabelsYOLO, Style: overlay.StyleDepth, DisparityMax: 95,
	})

	require.NoError(t, qs.Frame.Put(ctx, blackFrame(3, 40, 25)))
	require.NoError(t, qs.Detections.Put(ctx, &models.SpatialImgDetections{Sequence: 3, Detections: []models.SpatialDetection{cup}}))
	require.NoError(t, qs.Depth.Put(ctx, &models.ImgFrame{Sequence: 3, Width: 2, Height: 1, Type: models.FrameGray8, Data: []byte{95, 0}}))

	res := awaitResult(t, p)
	assert.Equal(t, "Depth: 950 mm", res.Annotations[0].Lines[0].Text)
	assert.Zero(t, res.Frame.RGBAAt(10, 12).G, "overlay must not be drawn")
	assert.Equal(t, []uint8{255, 0}, res.DepthGray.Pix)
	assert.Equal(t, image.Rect(0, 0, 40, 25), res.Depth.Bounds())
}

func TestClosedQueueEndsLoop(t *testing.T) {
	for _, mode := range []Mode{PollAll, Sequential} {
		qs := newQueues()
		p := startProcessor(t, config.NewDefaultConfig(), qs, Options{Mode: mode})
		qs.Frame.Close()

		select {
		case <-p.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("mode %d: loop kept running", mode)
		}
		assert.True(t, errors.Is(p.Err(), device.ErrQueueClosed))
		assert.False(t, p.IsActive())

		_, ok := <-p.OutImageStream
		assert.False(t, ok)
	}
}

func TestWrongMessageTypeFails(t *testing.T) {
	ctx := context.Background()
	qs := newQueues()
	qs.Depth = nil
	p := startProcessor(t, config.NewDefaultConfig(), qs, Options{Mode: Sequential})

	require.NoError(t, qs.Frame.Put(ctx, &models.SpatialImgDetections{}))
	<-p.Done()
	require.Error(t, p.Err())
	assert.Contains(t, p.Err().Error(), "want *models.ImgFrame")
}

func TestStopIsIdempotent(t *testing.T) {
	p := NewProcessor(config.NewDefaultConfig(), newQueues(), Options{}, zaptest.NewLogger(t).Sugar())
	p.Stop()

	p.Start(context.Background())
	assert.True(t, p.IsActive())
	p.Stop()
	p.Stop()
	assert.False(t, p.IsActive())
	assert.NoError(t, p.Err())
}
