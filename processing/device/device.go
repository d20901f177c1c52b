package device

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"depthview/processing/pipeline"
)

const DefaultQueueSize = 4

var ErrUnknownStream = errors.New("unknown stream")

// Device is a running pipeline session. Packets are routed to one queue per
// output stream.
type Device struct {
	log      *zap.SugaredLogger
	session  uuid.UUID
	pipeline *pipeline.Pipeline

	mu     sync.Mutex
	queues map[string]*Queue
	err    error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open validates p, starts it on src and begins routing packets. ctx bounds
// only the connection handshake.
func Open(ctx context.Context, src Source, p *pipeline.Pipeline, log *zap.SugaredLogger) (*Device, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	session := uuid.New()
	log = log.With("session", session.String())

	conn, err := src.Connect(ctx, session, p)
	if err != nil {
		return nil, errors.Wrap(err, "open device")
	}

	d := &Device{
		log:      log,
		session:  session,
		pipeline: p,
		queues:   make(map[string]*Queue),
		done:     make(chan struct{}),
	}
	for _, name := range p.Streams() {
		d.queues[name] = NewQueue(name, DefaultQueueSize, false)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(runCtx, conn)

	log.Infow("device opened", "streams", p.Streams())
	return d, nil
}

func (d *Device) run(ctx context.Context, conn Conn) {
	defer close(d.done)
	defer func() {
		if err := conn.Close(); err != nil {
			d.mu.Lock()
			d.closeErr = err
			d.mu.Unlock()
		}
	}()
	defer d.closeQueues()

	for {
		pkt, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Errorw("device stream failed", "error", err)
				d.mu.Lock()
				d.err = err
				d.mu.Unlock()
			}
			return
		}

		d.mu.Lock()
		q := d.queues[pkt.Stream]
		d.mu.Unlock()
		if q == nil {
			d.log.Debugw("packet for unknown stream dropped", "stream", pkt.Stream)
			continue
		}
		if err := q.Put(ctx, pkt.Msg); err != nil {
			return
		}
	}
}

func (d *Device) closeQueues() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queues {
		q.Close()
	}
}

// OutputQueue returns the queue for stream, applying size and policy. Repeated
// calls return the same queue.
func (d *Device) OutputQueue(stream string, maxSize int, blocking bool) (*Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[stream]
	if !ok {
		return nil, errors.Wrap(ErrUnknownStream, stream)
	}
	q.Configure(maxSize, blocking)
	return q, nil
}

func (d *Device) Session() uuid.UUID { return d.session }

func (d *Device) Pipeline() *pipeline.Pipeline { return d.pipeline }

// Streams lists output streams, sorted.
func (d *Device) Streams() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.queues))
	for name := range d.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dropped reports per-stream drop counters.
func (d *Device) Dropped() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.queues))
	for name, q := range d.queues {
		out[name] = q.Dropped()
	}
	return out
}

// Err returns the error that ended the session, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the session has ended.
func (d *Device) Done() <-chan struct{} { return d.done }

// Close stops the session and closes every queue. It is safe to call twice.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done

		d.mu.Lock()
		err = d.closeErr
		d.mu.Unlock()
		d.log.Infow("device closed")
	})
	return err
}
