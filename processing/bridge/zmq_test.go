package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"depthview/internal/models"
	"depthview/processing/device"
	"depthview/processing/pipeline"
)

func startZMQ(t *testing.T, control, data string) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	z, err := NewServer(device.NewSimSource(device.SimConfig{FPS: 100}), log).ListenZMQ(control, data)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- z.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, z.Close())
	})
}

func TestZMQSessionStreamsPackets(t *testing.T) {
	control, data := "inproc://bridge-control-stream", "inproc://bridge-data-stream"
	startZMQ(t, control, data)

	log := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := device.Open(ctx, device.NewZMQSource(control, data, 5*time.Second, log), yoloPipeline(t, writeBlob(t)), log)
	require.NoError(t, err)
	defer d.Close()

	q, err := d.OutputQueue(pipeline.StreamDetections, 4, false)
	require.NoError(t, err)
	dets, err := device.Next[*models.SpatialImgDetections](ctx, q)
	require.NoError(t, err)
	assert.NotEmpty(t, dets.Detections)

	q, err = d.OutputQueue(pipeline.StreamRGB, 4, false)
	require.NoError(t, err)
	rgb, err := device.Next[*models.ImgFrame](ctx, q)
	require.NoError(t, err)
	assert.Equal(t, models.FrameBGR888p, rgb.Type)
}

func TestZMQRejectsMissingBlob(t *testing.T) {
	control, data := "inproc://bridge-control-reject", "inproc://bridge-data-reject"
	startZMQ(t, control, data)

	req, err := zmq4.NewSocket(zmq4.REQ)
	require.NoError(t, err)
	defer req.Close()
	require.NoError(t, req.SetRcvtimeo(5*time.Second))
	require.NoError(t, req.SetLinger(0))
	require.NoError(t, req.Connect(control))

	upload, err := device.EncodeUpload(uuid.New().String(), yoloPipeline(t, "models/net.blob"), nil)
	require.NoError(t, err)
	_, err = req.SendBytes(upload, 0)
	require.NoError(t, err)

	reply, err := req.RecvBytes(0)
	require.NoError(t, err)
	env, err := device.DecodeEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, device.MsgError, env.Type)
	assert.Contains(t, env.Error, "missing blob")
}

func TestZMQNextSessionIgnoresSupersededPackets(t *testing.T) {
	control, data := "inproc://bridge-control-replace", "inproc://bridge-data-replace"
	startZMQ(t, control, data)

	log := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	blob := writeBlob(t)

	first, err := device.Open(ctx, device.NewZMQSource(control, data, 5*time.Second, log), yoloPipeline(t, blob), log)
	require.NoError(t, err)
	q, err := first.OutputQueue(pipeline.StreamRGB, 4, false)
	require.NoError(t, err)
	_, err = device.Next[*models.ImgFrame](ctx, q)
	require.NoError(t, err)
	// The bridge keeps streaming the yolov8 session until the next upload.
	require.NoError(t, first.Close())

	m, err := pipeline.Lookup(pipeline.ModelMobileSSD)
	require.NoError(t, err)
	p, err := m.Build(pipeline.Options{BlobPath: blob})
	require.NoError(t, err)

	second, err := device.Open(ctx, device.NewZMQSource(control, data, 5*time.Second, log), p, log)
	require.NoError(t, err)
	defer second.Close()

	q, err = second.OutputQueue(pipeline.StreamRGB, 16, true)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		rgb, err := device.Next[*models.ImgFrame](ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 300, rgb.Width, "frame %d", i)
	}
	assert.NoError(t, second.Err())
}
