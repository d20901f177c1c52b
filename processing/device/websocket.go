package device

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/processing/pipeline"
)

const defaultHandshakeTimeout = 30 * time.Second

// WebsocketSource runs pipelines on a device bridge reachable at ws://host/ws.
type WebsocketSource struct {
	serverURL string
	timeout   time.Duration
	dialer    *websocket.Dialer
	log       *zap.SugaredLogger
}

func NewWebsocketSource(host string, handshakeTimeout time.Duration, log *zap.SugaredLogger) *WebsocketSource {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}

	return &WebsocketSource{
		serverURL: u.String(),
		timeout:   handshakeTimeout,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:       log,
	}
}

func (s *WebsocketSource) Connect(ctx context.Context, session uuid.UUID, p *pipeline.Pipeline) (Conn, error) {
	assets, err := LoadAssets(p)
	if err != nil {
		return nil, err
	}
	upload, err := EncodeUpload(session.String(), p, assets)
	if err != nil {
		return nil, err
	}

	s.log.Infow("connecting to device bridge", "url", s.serverURL)
	conn, _, err := s.dialer.DialContext(ctx, s.serverURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", s.serverURL)
	}

	if err := s.handshake(ctx, conn, upload); err != nil {
		conn.Close()
		return nil, err
	}
	s.log.Infow("device bridge ready", "url", s.serverURL)
	return &wsConn{conn: conn, session: session.String()}, nil
}

func (s *WebsocketSource) handshake(ctx context.Context, conn *websocket.Conn, upload []byte) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.BinaryMessage, upload); err != nil {
		return errors.Wrap(err, "upload pipeline")
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "await bridge reply")
	}
	env, err := DecodeEnvelope(message)
	if err != nil {
		return err
	}
	if err := env.reply(); err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Time{})
	return conn.SetReadDeadline(time.Time{})
}

type wsConn struct {
	conn    *websocket.Conn
	session string
}

func (c *wsConn) Recv(ctx context.Context) (Packet, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Packet{}, ctx.Err()
			}
			return Packet{}, errors.Wrap(err, "read bridge")
		}

		env, err := DecodeEnvelope(message)
		if err != nil {
			return Packet{}, err
		}
		if pkt, ok, err := env.streamed(c.session); ok {
			return pkt, err
		}
	}
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
