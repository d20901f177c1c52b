package device

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"depthview/internal/models"
	"depthview/processing/pipeline"
)

// Envelope types exchanged with a device bridge.
const (
	MsgUpload = "upload"
	MsgReady  = "ready"
	MsgError  = "error"
	MsgPacket = "packet"
)

// Envelope is the CBOR message framing shared by every bridge transport.
type Envelope struct {
	Type     string            `cbor:"type"`
	Session  string            `cbor:"session,omitempty"`
	Pipeline *pipeline.Spec    `cbor:"pipeline,omitempty"`
	Assets   map[string][]byte `cbor:"assets,omitempty"`
	Packet   *WirePacket       `cbor:"packet,omitempty"`
	Error    string            `cbor:"error,omitempty"`
}

type WirePacket struct {
	Stream     string                       `cbor:"stream"`
	Frame      *models.ImgFrame             `cbor:"frame,omitempty"`
	Detections *models.SpatialImgDetections `cbor:"detections,omitempty"`
}

func EncodeUpload(session string, p *pipeline.Pipeline, assets map[string][]byte) ([]byte, error) {
	spec, err := p.Spec()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(Envelope{Type: MsgUpload, Session: session, Pipeline: spec, Assets: assets})
}

func EncodeReady(session string) ([]byte, error) {
	return cbor.Marshal(Envelope{Type: MsgReady, Session: session})
}

func EncodeError(session string, cause error) ([]byte, error) {
	return cbor.Marshal(Envelope{Type: MsgError, Session: session, Error: cause.Error()})
}

// EncodePacket stamps pkt with session so clients can drop packets of a session
// they did not open.
func EncodePacket(session string, pkt Packet) ([]byte, error) {
	wire := &WirePacket{Stream: pkt.Stream}
	switch m := pkt.Msg.(type) {
	case *models.ImgFrame:
		wire.Frame = m
	case *models.SpatialImgDetections:
		wire.Detections = m
	default:
		return nil, errors.Errorf("cannot encode %T on stream %q", pkt.Msg, pkt.Stream)
	}
	return cbor.Marshal(Envelope{Type: MsgPacket, Session: session, Packet: wire})
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.Type == "" {
		return nil, errors.New("envelope without type")
	}
	return &env, nil
}

// ToPacket unwraps a packet envelope.
func (e *Envelope) ToPacket() (Packet, error) {
	if e.Type != MsgPacket || e.Packet == nil {
		return Packet{}, errors.Errorf("envelope %q carries no packet", e.Type)
	}
	switch {
	case e.Packet.Frame != nil:
		if err := e.Packet.Frame.Check(); err != nil {
			return Packet{}, errors.Wrapf(err, "stream %q", e.Packet.Stream)
		}
		return Packet{Stream: e.Packet.Stream, Msg: e.Packet.Frame}, nil
	case e.Packet.Detections != nil:
		return Packet{Stream: e.Packet.Stream, Msg: e.Packet.Detections}, nil
	}
	return Packet{}, errors.Errorf("empty packet on stream %q", e.Packet.Stream)
}

// streamed interprets an envelope read from the data channel of session.
// ok is false for envelopes the caller should skip: other sessions and
// non-data types.
func (e *Envelope) streamed(session string) (pkt Packet, ok bool, err error) {
	if e.Session != session {
		return Packet{}, false, nil
	}
	switch e.Type {
	case MsgPacket:
		pkt, err = e.ToPacket()
		return pkt, true, err
	case MsgError:
		return Packet{}, true, errors.Wrap(ErrDeviceRejected, e.Error)
	}
	return Packet{}, false, nil
}

// reply turns a handshake answer into an error unless it is ready.
func (e *Envelope) reply() error {
	switch e.Type {
	case MsgReady:
		return nil
	case MsgError:
		return errors.Wrap(ErrDeviceRejected, e.Error)
	}
	return errors.Errorf("unexpected %q during handshake", e.Type)
}
