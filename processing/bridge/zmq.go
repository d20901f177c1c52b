package bridge

import (
	"context"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"depthview/processing/device"
)

const zmqPollInterval = 200 * time.Millisecond

// ZMQServer answers uploads on a REP socket and pushes packets on a PUSH socket.
// PUSH cannot see a client leave, so a session lasts until the next upload
// replaces it. Packets that cannot be delivered within the poll interval are
// dropped.
type ZMQServer struct {
	srv     *Server
	control *zmq4.Socket
	data    *zmq4.Socket
}

// ListenZMQ binds both sockets.
func (s *Server) ListenZMQ(control, data string) (*ZMQServer, error) {
	z := &ZMQServer{srv: s}
	var err error
	if z.control, err = zmq4.NewSocket(zmq4.REP); err != nil {
		return nil, err
	}
	if z.data, err = zmq4.NewSocket(zmq4.PUSH); err != nil {
		_ = z.control.Close()
		return nil, err
	}

	err = multierr.Combine(
		z.control.SetRcvtimeo(zmqPollInterval),
		z.control.SetLinger(0),
		z.data.SetSndtimeo(zmqPollInterval),
		z.data.SetLinger(0),
	)
	if err == nil {
		err = errors.Wrapf(z.control.Bind(control), "bind %s", control)
	}
	if err == nil {
		err = errors.Wrapf(z.data.Bind(data), "bind %s", data)
	}
	if err != nil {
		return nil, multierr.Append(err, z.Close())
	}

	s.log.Infow("bridge listening", "control", control, "data", data)
	return z, nil
}

func isEAGAIN(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

// Serve handles sessions until ctx ends. The sockets are owned by the calling
// goroutine.
func (z *ZMQServer) Serve(ctx context.Context) error {
	var upload []byte
	for {
		if upload == nil {
			msg, err := z.control.RecvBytes(0)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if isEAGAIN(err) {
					continue
				}
				return errors.Wrap(err, "read control")
			}
			upload = msg
		}

		next, err := z.session(ctx, upload)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		upload = next
	}
}

// session runs one upload and returns the upload that superseded it, if any.
func (z *ZMQServer) session(ctx context.Context, upload []byte) ([]byte, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, conn, err := z.srv.open(sessCtx, upload)
	log := z.srv.log.With("session", session)
	if err != nil {
		log.Warnw("pipeline rejected", "error", err)
		reply, encErr := device.EncodeError(session, err)
		if encErr != nil {
			return nil, encErr
		}
		_, err := z.control.SendBytes(reply, 0)
		return nil, errors.Wrap(err, "reply")
	}
	defer conn.Close()

	reply, err := device.EncodeReady(session)
	if err != nil {
		return nil, err
	}
	if _, err := z.control.SendBytes(reply, 0); err != nil {
		return nil, errors.Wrap(err, "reply")
	}
	log.Infow("session started")

	for {
		next, err := z.control.RecvBytes(zmq4.DONTWAIT)
		if err == nil {
			log.Infow("session replaced")
			return next, nil
		}
		if !isEAGAIN(err) {
			return nil, errors.Wrap(err, "read control")
		}

		pkt, err := conn.Recv(sessCtx)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorw("session failed", "error", err)
				z.pushError(session, err)
			}
			return nil, nil
		}
		data, err := device.EncodePacket(session, pkt)
		if err != nil {
			log.Errorw("encode packet", "stream", pkt.Stream, "error", err)
			continue
		}
		if _, err := z.data.SendBytes(data, 0); err != nil && !isEAGAIN(err) {
			return nil, errors.Wrap(err, "push packet")
		}
	}
}

func (z *ZMQServer) pushError(session string, cause error) {
	if msg, err := device.EncodeError(session, cause); err == nil {
		_, _ = z.data.SendBytes(msg, 0)
	}
}

func (z *ZMQServer) Close() error {
	return multierr.Combine(z.control.Close(), z.data.Close())
}
