package device

import (
	"context"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"depthview/processing/pipeline"
)

const zmqPollInterval = 200 * time.Millisecond

// ZMQSource uploads pipelines over a REQ control socket and pulls packets from a
// PULL data socket.
type ZMQSource struct {
	control string
	data    string
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewZMQSource(control, data string, handshakeTimeout time.Duration, log *zap.SugaredLogger) *ZMQSource {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &ZMQSource{control: control, data: data, timeout: handshakeTimeout, log: log}
}

func (s *ZMQSource) Connect(ctx context.Context, session uuid.UUID, p *pipeline.Pipeline) (Conn, error) {
	assets, err := LoadAssets(p)
	if err != nil {
		return nil, err
	}
	upload, err := EncodeUpload(session.String(), p, assets)
	if err != nil {
		return nil, err
	}

	// The data socket connects first so no packet sent after ready is lost.
	data, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := data.SetRcvtimeo(zmqPollInterval); err != nil {
		_ = data.Close()
		return nil, err
	}
	if err := data.Connect(s.data); err != nil {
		_ = data.Close()
		return nil, errors.Wrapf(err, "connect %s", s.data)
	}

	control, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	conn := &zmqConn{control: control, data: data, session: session.String()}

	if err := s.handshake(ctx, control, upload); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.log.Infow("device bridge ready", "control", s.control, "data", s.data)
	return conn, nil
}

func (s *ZMQSource) handshake(ctx context.Context, control *zmq4.Socket, upload []byte) error {
	timeout := s.timeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}
	if err := control.SetRcvtimeo(timeout); err != nil {
		return err
	}
	if err := control.SetLinger(0); err != nil {
		return err
	}
	if err := control.Connect(s.control); err != nil {
		return errors.Wrapf(err, "connect %s", s.control)
	}

	if _, err := control.SendBytes(upload, 0); err != nil {
		return errors.Wrap(err, "upload pipeline")
	}
	reply, err := control.RecvBytes(0)
	if err != nil {
		return errors.Wrap(err, "await bridge reply")
	}
	env, err := DecodeEnvelope(reply)
	if err != nil {
		return err
	}
	return env.reply()
}

type zmqConn struct {
	control *zmq4.Socket
	data    *zmq4.Socket
	session string
}

func (c *zmqConn) Recv(ctx context.Context) (Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}

		msg, err := c.data.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			return Packet{}, errors.Wrap(err, "read bridge")
		}

		env, err := DecodeEnvelope(msg)
		if err != nil {
			return Packet{}, err
		}
		// A PUSH socket still draining a superseded session may hand us its packets.
		if pkt, ok, err := env.streamed(c.session); ok {
			return pkt, err
		}
	}
}

func (c *zmqConn) Close() error {
	return multierr.Combine(c.control.Close(), c.data.Close())
}
