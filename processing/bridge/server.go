package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/processing/device"
	"depthview/processing/pipeline"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 30 * time.Second
	// Uploads carry network blobs, which run to tens of megabytes.
	maxUploadSize = 256 << 20
)

// Server exposes a device source to remote hosts. Each connection runs one
// pipeline session.
type Server struct {
	src      device.Source
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewServer(src device.Source, log *zap.SugaredLogger) *Server {
	return &Server{
		src: src,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves /ws sessions and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves the websocket endpoint on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Infow("bridge listening", "addr", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxUploadSize)
	_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))

	send := func(data []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.BinaryMessage, data)
	}

	_, upload, err := ws.ReadMessage()
	if err != nil {
		s.log.Debugw("no upload received", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, conn, err := s.open(ctx, upload)
	log := s.log.With("session", session, "remote", r.RemoteAddr)
	if err != nil {
		log.Warnw("pipeline rejected", "error", err)
		if reply, encErr := device.EncodeError(session, err); encErr == nil {
			_ = send(reply)
		}
		return
	}
	defer conn.Close()

	reply, err := device.EncodeReady(session)
	if err != nil {
		return
	}
	if err := send(reply); err != nil {
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
	log.Infow("session started")

	// Clients send nothing after the upload; a read error means they are gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.stream(ctx, session, conn, send); err != nil {
		log.Errorw("session failed", "error", err)
		if reply, encErr := device.EncodeError(session, err); encErr == nil {
			_ = send(reply)
		}
		return
	}
	log.Infow("session ended")
}

// open decodes an upload envelope and starts its pipeline on the source.
func (s *Server) open(ctx context.Context, upload []byte) (string, device.Conn, error) {
	env, err := device.DecodeEnvelope(upload)
	if err != nil {
		return "", nil, err
	}
	if env.Type != device.MsgUpload || env.Pipeline == nil {
		return env.Session, nil, errors.Errorf("expected upload, got %q", env.Type)
	}

	id, err := uuid.Parse(env.Session)
	if err != nil {
		id = uuid.New()
	}
	session := id.String()

	p, err := pipeline.FromSpec(env.Pipeline)
	if err != nil {
		return session, nil, err
	}
	if err := p.Validate(); err != nil {
		return session, nil, err
	}
	for _, path := range p.Assets() {
		if len(env.Assets[path]) == 0 {
			return session, nil, errors.Wrap(device.ErrMissingBlob, path)
		}
	}

	conn, err := s.src.Connect(ctx, id, p)
	if err != nil {
		return session, nil, err
	}
	return session, conn, nil
}

// stream forwards packets until ctx ends or either side fails.
func (s *Server) stream(ctx context.Context, session string, conn device.Conn, send func([]byte) error) error {
	for {
		pkt, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		data, err := device.EncodePacket(session, pkt)
		if err != nil {
			return err
		}
		if err := send(data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "send packet")
		}
	}
}
