package cvdraw

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
)

// Recorder writes BGR frames to a video file. The file is opened on the first
// frame so its size follows the stream.
type Recorder struct {
	path  string
	codec string
	fps   float64
	log   *zap.SugaredLogger

	writer *gocv.VideoWriter
	frames int
}

func NewRecorder(path, codec string, fps float64, log *zap.SugaredLogger) *Recorder {
	return &Recorder{path: path, codec: codec, fps: fps, log: log}
}

func (r *Recorder) Write(mat gocv.Mat) error {
	if r.writer == nil {
		w, err := gocv.VideoWriterFile(r.path, r.codec, r.fps, mat.Cols(), mat.Rows(), true)
		if err != nil {
			return errors.Wrapf(err, "open %s", r.path)
		}
		r.writer = w
		r.log.Infow("recording", "path", r.path, "codec", r.codec, "fps", r.fps,
			"width", mat.Cols(), "height", mat.Rows())
	}
	if err := r.writer.Write(mat); err != nil {
		return errors.Wrap(err, "write frame")
	}
	r.frames++
	return nil
}

// Close releases the file. It is a no-op when nothing was written.
func (r *Recorder) Close() error {
	if r.writer == nil {
		return nil
	}
	r.log.Infow("recording closed", "path", r.path, "frames", r.frames)
	err := r.writer.Close()
	r.writer = nil
	return err
}
