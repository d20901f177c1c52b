package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/internal/models"
	"depthview/processing/detector"
)

type Snapshot struct {
	Running   bool              `json:"running"`
	Model     string            `json:"model,omitempty"`
	Session   string            `json:"session,omitempty"`
	Streams   []string          `json:"streams,omitempty"`
	FPS       uint              `json:"fps"`
	LatencyMS int64             `json:"latency_ms"`
	Frames    uint64            `json:"frames"`
	Dropped   map[string]uint64 `json:"dropped,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Tracker holds the session currently shown, for status reporting.
type Tracker struct {
	mu      sync.RWMutex
	session *detector.Session
	lastErr error
}

func (t *Tracker) Set(s *detector.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = s
	t.lastErr = nil
}

// Clear forgets the session, keeping err as the reason it ended.
func (t *Tracker) Clear(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = nil
	t.lastErr = err
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s, lastErr := t.session, t.lastErr
	t.mu.RUnlock()

	var snap Snapshot
	if lastErr != nil {
		snap.Error = lastErr.Error()
	}
	if s == nil {
		return snap
	}

	stats := s.Processor.Stats()
	snap.Running = s.Processor.IsActive()
	snap.Model = s.Model.Name
	snap.Session = s.Device.Session().String()
	snap.Streams = s.Device.Streams()
	snap.FPS = stats.FPS
	snap.LatencyMS = stats.Latency.Milliseconds()
	snap.Frames = stats.Frames
	snap.Dropped = s.Device.Dropped()
	return snap
}

// Detections returns the latest displayed detections, empty without a session.
func (t *Tracker) Detections() []models.DetectionResult {
	t.mu.RLock()
	s := t.session
	t.mu.RUnlock()
	if s == nil {
		return []models.DetectionResult{}
	}
	if dets := s.Processor.LastDetections(); dets != nil {
		return dets
	}
	return []models.DetectionResult{}
}

func NewRouter(t *Tracker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "ok")
	})

	apiRoutes := r.Group("/api")
	apiRoutes.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, t.Snapshot())
	})
	apiRoutes.GET("/detections", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, t.Detections())
	})
	return r
}

// Serve runs the status API on addr until ctx ends.
func Serve(ctx context.Context, addr string, t *Tracker, log *zap.SugaredLogger) error {
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(t),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infow("status api listening", "addr", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
