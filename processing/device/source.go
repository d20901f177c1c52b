package device

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/internal/config"
	"depthview/internal/models"
	"depthview/processing/pipeline"
)

var (
	ErrMissingBlob    = errors.New("missing blob file")
	ErrDeviceRejected = errors.New("device rejected pipeline")
)

// Packet is one message produced on a named output stream.
type Packet struct {
	Stream string
	Msg    models.Message
}

// Source starts a pipeline on a device runtime.
type Source interface {
	Connect(ctx context.Context, session uuid.UUID, p *pipeline.Pipeline) (Conn, error)
}

// Conn yields the packets of one running pipeline. Recv must return promptly once
// ctx is done. Close is called by the reading goroutine after the last Recv.
type Conn interface {
	Recv(ctx context.Context) (Packet, error)
	Close() error
}

func NewSource(cfg *config.Config, log *zap.SugaredLogger) (Source, error) {
	switch cfg.Transport {
	case config.TransportSim:
		return NewSimSource(SimConfig{FPS: float64(cfg.GetFPS())}), nil
	case config.TransportWebsocket:
		return NewWebsocketSource(cfg.Bridge.Address, cfg.Bridge.HandshakeTimeout, log), nil
	case config.TransportZMQ:
		return NewZMQSource(cfg.Bridge.ZMQControl, cfg.Bridge.ZMQData, cfg.Bridge.HandshakeTimeout, log), nil
	default:
		return nil, errors.Errorf("unknown transport: %s", cfg.Transport)
	}
}

// LoadAssets reads every blob the pipeline references.
func LoadAssets(p *pipeline.Pipeline) (map[string][]byte, error) {
	assets := make(map[string][]byte)
	for _, path := range p.Assets() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(ErrMissingBlob, path)
			}
			return nil, errors.Wrapf(err, "read blob %s", path)
		}
		assets[path] = data
	}
	return assets, nil
}
