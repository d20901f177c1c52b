package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview/internal/models"
	"depthview/processing/pipeline"
)

func sceneConn(nn pipeline.SpatialDetectionNetworkProperties, objects ...*simObject) *simConn {
	return &simConn{nn: nn, objects: objects}
}

func centered(size, z float64, confidence float32) *simObject {
	return &simObject{cx: 0.5, cy: 0.5, w: size, h: size, z: z, confidence: confidence}
}

func TestSimSpatialDepthThresholds(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi uint32
		wantZ  float64
	}{
		{"object in range", 100, 5000, 3000},
		{"everything beyond upper", 100, 2000, 0},
		// The object is nearer than lower, the wall behind it is kept.
		{"object below lower", 4000, 6000, 6500 - 2500*0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sceneConn(pipeline.SpatialDetectionNetworkProperties{
				ConfidenceThreshold:    0.5,
				BoundingBoxScaleFactor: 1,
				DepthLowerThreshold:    tt.lo,
				DepthUpperThreshold:    tt.hi,
			}, centered(0.2, 3000, 0.9))

			out := c.detect(0)
			require.Len(t, out.Detections, 1)
			det := out.Detections[0]
			assert.InDelta(t, tt.wantZ, det.Spatial.Z, 1)
			if tt.wantZ == 0 {
				assert.Equal(t, models.Point3f{}, det.Spatial)
			}
			assert.InDelta(t, 0, det.Spatial.X, 1e-3)
		})
	}
}

func TestSimSpatialUsesScaledBox(t *testing.T) {
	// far is detected; near sits in its center below the confidence threshold.
	far := centered(0.4, 4000, 0.9)
	near := centered(0.1, 1000, 0.1)

	tests := []struct {
		scale float32
		wantZ float64
	}{
		// 4 of the 8x8 samples hit near.
		{1, (4*1000 + 60*4000) / 64.0},
		{0.5, (16*1000 + 48*4000) / 64.0},
		{0.25, 1000},
	}
	for _, tt := range tests {
		c := sceneConn(pipeline.SpatialDetectionNetworkProperties{
			ConfidenceThreshold:    0.5,
			BoundingBoxScaleFactor: tt.scale,
			DepthLowerThreshold:    100,
			DepthUpperThreshold:    5000,
		}, far, near)

		out := c.detect(0)
		require.Len(t, out.Detections, 1, "scale %v", tt.scale)
		assert.InDelta(t, tt.wantZ, out.Detections[0].Spatial.Z, 0.5, "scale %v", tt.scale)
		assert.Equal(t, float32(0.3), out.Detections[0].XMin)
	}
}

func TestSimFrameRateFollowsCameras(t *testing.T) {
	tests := []struct {
		name string
		fps  float64
		want time.Duration
	}{
		{"camera fps", 20, 50 * time.Millisecond},
		{"sensor default", 0, 5 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openSim(t, buildModel(t, pipeline.ModelYOLOv8, pipeline.Options{FPS: tt.fps}))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			q, err := d.OutputQueue(pipeline.StreamDetections, 8, true)
			require.NoError(t, err)
			first, err := Next[*models.SpatialImgDetections](ctx, q)
			require.NoError(t, err)
			second, err := Next[*models.SpatialImgDetections](ctx, q)
			require.NoError(t, err)

			steps := second.Sequence - first.Sequence
			require.Positive(t, steps)
			assert.Equal(t, tt.want, (second.Timestamp-first.Timestamp)/time.Duration(steps))
		})
	}
}

func TestFrameIntervalBounds(t *testing.T) {
	assert.Equal(t, time.Second/simDefaultFPS, frameInterval(0))
	assert.Equal(t, time.Second/simDefaultFPS, frameInterval(-5))
	assert.Equal(t, time.Second/simMaxFPS, frameInterval(2e9))
	assert.Equal(t, 50*time.Millisecond, frameInterval(20))
}
