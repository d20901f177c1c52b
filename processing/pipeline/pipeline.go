package pipeline

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrUnknownPort  = errors.New("unknown port")
	ErrInputLinked  = errors.New("input already linked")
	ErrNoOutputs    = errors.New("pipeline has no output streams")
	ErrUnknownTap   = errors.New("unknown output stream")
	ErrInvalidGraph = errors.New("invalid pipeline")
)

// Pipeline is a declarative graph of device nodes. It performs no work on the host;
// it is uploaded to the device runtime as a whole.
type Pipeline struct {
	nodes []*Node
	links []Link
}

func New() *Pipeline {
	return &Pipeline{}
}

// Create adds a node configured by props.
func (p *Pipeline) Create(props Properties) *Node {
	n := &Node{ID: len(p.nodes), Props: props}
	p.nodes = append(p.nodes, n)
	return n
}

func (p *Pipeline) Nodes() []*Node { return p.nodes }
func (p *Pipeline) Links() []Link  { return p.links }

// Node returns the node with the given id, or nil.
func (p *Pipeline) Node(id int) *Node {
	if id < 0 || id >= len(p.nodes) {
		return nil
	}
	return p.nodes[id]
}

// Link connects from (an output) to to (an input). An input accepts one link.
func (p *Pipeline) Link(from, to Port) error {
	src, dst := p.Node(from.Node), p.Node(to.Node)
	if src == nil {
		return errors.Wrapf(ErrUnknownNode, "link source %s", from)
	}
	if dst == nil {
		return errors.Wrapf(ErrUnknownNode, "link target %s", to)
	}
	if from.Node == to.Node {
		return errors.Errorf("cannot link %s to itself", src)
	}
	if !from.Output || !hasPort(kindPorts[src.Kind()].outputs, from.Name) {
		return errors.Wrapf(ErrUnknownPort, "%s has no output %q", src, from.Name)
	}
	if to.Output || !hasPort(kindPorts[dst.Kind()].inputs, to.Name) {
		return errors.Wrapf(ErrUnknownPort, "%s has no input %q", dst, to.Name)
	}
	if _, ok := p.inbound(to); ok {
		return errors.Wrapf(ErrInputLinked, "%s.%s", dst, to.Name)
	}
	p.links = append(p.links, Link{From: from, To: to})
	return nil
}

func (p *Pipeline) inbound(to Port) (Port, bool) {
	for _, l := range p.links {
		if l.To.Node == to.Node && l.To.Name == to.Name {
			return l.From, true
		}
	}
	return Port{}, false
}

// Upstream returns the output port feeding input in of node.
func (p *Pipeline) Upstream(node *Node, in string) (Port, bool) {
	return p.inbound(node.In(in))
}

// Validate checks node properties, required inputs and stream names.
func (p *Pipeline) Validate() error {
	var errs error
	seen := make(map[string]bool)
	outputs := 0

	for _, n := range p.nodes {
		if err := n.Props.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s", n))
		}
		for _, in := range kindPorts[n.Kind()].required {
			if _, ok := p.Upstream(n, in); !ok {
				errs = multierr.Append(errs, errors.Errorf("%s: input %q is not linked", n, in))
			}
		}
		if x, ok := n.Props.(XLinkOutProperties); ok {
			outputs++
			if x.StreamName != "" && seen[x.StreamName] {
				errs = multierr.Append(errs, errors.Errorf("%s: duplicate stream name %q", n, x.StreamName))
			}
			seen[x.StreamName] = true
		}
	}
	if outputs == 0 {
		errs = multierr.Append(errs, ErrNoOutputs)
	}
	if errs != nil {
		return errors.Wrap(ErrInvalidGraph, errs.Error())
	}
	return nil
}

// Streams lists output stream names in creation order.
func (p *Pipeline) Streams() []string {
	var out []string
	for _, n := range p.nodes {
		if x, ok := n.Props.(XLinkOutProperties); ok {
			out = append(out, x.StreamName)
		}
	}
	return out
}

// Source returns the output port that feeds the named stream.
func (p *Pipeline) Source(stream string) (Port, error) {
	for _, n := range p.nodes {
		if x, ok := n.Props.(XLinkOutProperties); ok && x.StreamName == stream {
			from, ok := p.Upstream(n, PortInput)
			if !ok {
				return Port{}, errors.Errorf("stream %q is not linked", stream)
			}
			return from, nil
		}
	}
	return Port{}, errors.Wrap(ErrUnknownTap, stream)
}

// Assets lists the blob files the detection networks load.
func (p *Pipeline) Assets() []string {
	var out []string
	for _, n := range p.nodes {
		if nn, ok := n.Props.(SpatialDetectionNetworkProperties); ok && nn.BlobPath != "" {
			out = append(out, nn.BlobPath)
		}
	}
	return out
}

// Stereo returns the first stereo node's properties.
func (p *Pipeline) Stereo() (StereoDepthProperties, bool) {
	for _, n := range p.nodes {
		if s, ok := n.Props.(StereoDepthProperties); ok {
			return s, true
		}
	}
	return StereoDepthProperties{}, false
}

// CameraFPS returns the highest rate requested by a camera node, or 0 when every
// camera runs at its sensor default.
func (p *Pipeline) CameraFPS() float64 {
	var fps float64
	for _, n := range p.nodes {
		switch props := n.Props.(type) {
		case ColorCameraProperties:
			fps = math.Max(fps, props.FPS)
		case MonoCameraProperties:
			fps = math.Max(fps, props.FPS)
		}
	}
	return fps
}

// Network returns the first detection network's properties.
func (p *Pipeline) Network() (SpatialDetectionNetworkProperties, bool) {
	for _, n := range p.nodes {
		if nn, ok := n.Props.(SpatialDetectionNetworkProperties); ok {
			return nn, true
		}
	}
	return SpatialDetectionNetworkProperties{}, false
}
