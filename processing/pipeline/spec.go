package pipeline

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Spec is the serializable form of a pipeline, as uploaded to a device bridge.
type Spec struct {
	Nodes []NodeSpec `cbor:"nodes"`
	Links []LinkSpec `cbor:"links"`
}

type NodeSpec struct {
	ID    int             `cbor:"id"`
	Kind  Kind            `cbor:"kind"`
	Props cbor.RawMessage `cbor:"props"`
}

type LinkSpec struct {
	FromNode int    `cbor:"from"`
	FromPort string `cbor:"from_port"`
	ToNode   int    `cbor:"to"`
	ToPort   string `cbor:"to_port"`
}

func (p *Pipeline) Spec() (*Spec, error) {
	spec := &Spec{}
	for _, n := range p.nodes {
		raw, err := cbor.Marshal(n.Props)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", n)
		}
		spec.Nodes = append(spec.Nodes, NodeSpec{ID: n.ID, Kind: n.Kind(), Props: raw})
	}
	for _, l := range p.links {
		spec.Links = append(spec.Links, LinkSpec{
			FromNode: l.From.Node,
			FromPort: l.From.Name,
			ToNode:   l.To.Node,
			ToPort:   l.To.Name,
		})
	}
	return spec, nil
}

func decodeAs[T Properties](raw []byte) (Properties, error) {
	var v T
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeProps(kind Kind, raw []byte) (Properties, error) {
	switch kind {
	case KindColorCamera:
		return decodeAs[ColorCameraProperties](raw)
	case KindMonoCamera:
		return decodeAs[MonoCameraProperties](raw)
	case KindStereoDepth:
		return decodeAs[StereoDepthProperties](raw)
	case KindImageManip:
		return decodeAs[ImageManipProperties](raw)
	case KindSpatialDetectionNetwork:
		return decodeAs[SpatialDetectionNetworkProperties](raw)
	case KindXLinkOut:
		return decodeAs[XLinkOutProperties](raw)
	}
	return nil, errors.Errorf("unknown node kind %q", kind)
}

// FromSpec rebuilds a pipeline. Node ids must be dense and in order.
func FromSpec(spec *Spec) (*Pipeline, error) {
	if spec == nil {
		return nil, errors.New("nil pipeline spec")
	}
	p := New()
	for i, ns := range spec.Nodes {
		if ns.ID != i {
			return nil, errors.Errorf("node %d has id %d", i, ns.ID)
		}
		props, err := decodeProps(ns.Kind, ns.Props)
		if err != nil {
			return nil, errors.Wrapf(err, "decode node %d", ns.ID)
		}
		p.Create(props)
	}
	for _, ls := range spec.Links {
		from := Port{Node: ls.FromNode, Name: ls.FromPort, Output: true}
		to := Port{Node: ls.ToNode, Name: ls.ToPort}
		if err := p.Link(from, to); err != nil {
			return nil, err
		}
	}
	return p, nil
}
