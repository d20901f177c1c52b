package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"depthview/internal/models"
	"depthview/processing/device"
	"depthview/processing/pipeline"
)

func yoloPipeline(t *testing.T, blob string) *pipeline.Pipeline {
	t.Helper()
	m, err := pipeline.Lookup(pipeline.ModelYOLOv8)
	require.NoError(t, err)
	p, err := m.Build(pipeline.Options{BlobPath: blob, SyncNN: true})
	require.NoError(t, err)
	return p
}

func writeBlob(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yolov8n.blob")
	require.NoError(t, os.WriteFile(path, []byte{0xb1, 0x0b}, 0o600))
	return path
}

func startServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	srv := httptest.NewServer(NewServer(device.NewSimSource(device.SimConfig{FPS: 100}), log).Handler())
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func TestHealthz(t *testing.T) {
	srv, _ := startServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestWebsocketSessionStreamsPackets(t *testing.T) {
	_, host := startServer(t)
	log := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := device.Open(ctx, device.NewWebsocketSource(host, 5*time.Second, log), yoloPipeline(t, writeBlob(t)), log)
	require.NoError(t, err)
	defer d.Close()

	rgbQ, err := d.OutputQueue(pipeline.StreamRGB, 4, false)
	require.NoError(t, err)
	detQ, err := d.OutputQueue(pipeline.StreamDetections, 4, false)
	require.NoError(t, err)
	depthQ, err := d.OutputQueue(pipeline.StreamDepth, 4, false)
	require.NoError(t, err)

	rgb, err := device.Next[*models.ImgFrame](ctx, rgbQ)
	require.NoError(t, err)
	assert.Equal(t, 640, rgb.Width)

	dets, err := device.Next[*models.SpatialImgDetections](ctx, detQ)
	require.NoError(t, err)
	assert.NotEmpty(t, dets.Detections)

	depth, err := device.Next[*models.ImgFrame](ctx, depthQ)
	require.NoError(t, err)
	assert.Equal(t, models.FrameRaw16, depth.Type)

	assert.NoError(t, d.Err())
}

func dialRaw(t *testing.T, host string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+host+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *device.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := device.DecodeEnvelope(msg)
	require.NoError(t, err)
	return env
}

func TestUploadWithoutBlobIsRejected(t *testing.T) {
	_, host := startServer(t)
	ws := dialRaw(t, host)

	session := uuid.New().String()
	upload, err := device.EncodeUpload(session, yoloPipeline(t, "models/net.blob"), nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, upload))

	env := readEnvelope(t, ws)
	assert.Equal(t, device.MsgError, env.Type)
	assert.Equal(t, session, env.Session)
	assert.Contains(t, env.Error, "missing blob")
}

func TestInvalidPipelineIsRejected(t *testing.T) {
	_, host := startServer(t)
	ws := dialRaw(t, host)

	p := pipeline.New()
	p.Create(pipeline.XLinkOutProperties{StreamName: "lonely"})
	upload, err := device.EncodeUpload(uuid.New().String(), p, nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, upload))

	env := readEnvelope(t, ws)
	assert.Equal(t, device.MsgError, env.Type)
	assert.Contains(t, env.Error, "invalid pipeline")
}

func TestNonUploadIsRejected(t *testing.T) {
	_, host := startServer(t)
	ws := dialRaw(t, host)

	ready, err := device.EncodeReady("x")
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, ready))

	env := readEnvelope(t, ws)
	assert.Equal(t, device.MsgError, env.Type)
	assert.Contains(t, env.Error, "expected upload")
}
