package pipeline

import "fmt"

type Kind string

const (
	KindColorCamera             Kind = "ColorCamera"
	KindMonoCamera              Kind = "MonoCamera"
	KindStereoDepth             Kind = "StereoDepth"
	KindImageManip              Kind = "ImageManip"
	KindSpatialDetectionNetwork Kind = "SpatialDetectionNetwork"
	KindXLinkOut                Kind = "XLinkOut"
)

// Port names.
const (
	PortPreview          = "preview"
	PortVideo            = "video"
	PortIsp              = "isp"
	PortOut              = "out"
	PortLeft             = "left"
	PortRight            = "right"
	PortDepth            = "depth"
	PortDisparity        = "disparity"
	PortRectifiedLeft    = "rectifiedLeft"
	PortRectifiedRight   = "rectifiedRight"
	PortInputImage       = "inputImage"
	PortInput            = "input"
	PortInputDepth       = "inputDepth"
	PortPassthrough      = "passthrough"
	PortPassthroughDepth = "passthroughDepth"
)

type portSet struct {
	inputs   []string
	outputs  []string
	required []string
}

var kindPorts = map[Kind]portSet{
	KindColorCamera: {
		outputs: []string{PortPreview, PortVideo, PortIsp},
	},
	KindMonoCamera: {
		outputs: []string{PortOut},
	},
	KindStereoDepth: {
		inputs:   []string{PortLeft, PortRight},
		outputs:  []string{PortDepth, PortDisparity, PortRectifiedLeft, PortRectifiedRight},
		required: []string{PortLeft, PortRight},
	},
	KindImageManip: {
		inputs:   []string{PortInputImage},
		outputs:  []string{PortOut},
		required: []string{PortInputImage},
	},
	KindSpatialDetectionNetwork: {
		inputs:   []string{PortInput, PortInputDepth},
		outputs:  []string{PortOut, PortPassthrough, PortPassthroughDepth},
		required: []string{PortInput, PortInputDepth},
	},
	KindXLinkOut: {
		inputs:   []string{PortInput},
		required: []string{PortInput},
	},
}

func hasPort(list []string, name string) bool {
	for _, p := range list {
		if p == name {
			return true
		}
	}
	return false
}

// Properties holds the configuration of one node kind.
type Properties interface {
	Kind() Kind
	Validate() error
}

// Node is one processing element of a pipeline.
type Node struct {
	ID    int
	Props Properties
}

func (n *Node) Kind() Kind { return n.Props.Kind() }

// Out names an output port of n.
func (n *Node) Out(name string) Port { return Port{Node: n.ID, Name: name, Output: true} }

// In names an input port of n.
func (n *Node) In(name string) Port { return Port{Node: n.ID, Name: name} }

func (n *Node) String() string { return fmt.Sprintf("%s#%d", n.Kind(), n.ID) }

// Port addresses a node input or output.
type Port struct {
	Node   int
	Name   string
	Output bool
}

func (p Port) String() string { return fmt.Sprintf("#%d.%s", p.Node, p.Name) }

// Link connects an output port to an input port.
type Link struct {
	From Port
	To   Port
}
