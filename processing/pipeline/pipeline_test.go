package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoMonoStereo(p *Pipeline) (left, right, stereo *Node) {
	left = p.Create(MonoCameraProperties{Socket: SocketLeft, Resolution: Mono400P})
	right = p.Create(MonoCameraProperties{Socket: SocketRight, Resolution: Mono400P})
	stereo = p.Create(StereoDepthProperties{})
	return
}

func TestLinkRejectsBadPorts(t *testing.T) {
	p := New()
	left, right, stereo := twoMonoStereo(p)

	require.NoError(t, p.Link(left.Out(PortOut), stereo.In(PortLeft)))

	err := p.Link(right.Out(PortOut), stereo.In(PortLeft))
	assert.True(t, errors.Is(err, ErrInputLinked))

	err = p.Link(right.Out("bogus"), stereo.In(PortRight))
	assert.True(t, errors.Is(err, ErrUnknownPort))

	err = p.Link(stereo.In(PortLeft), right.Out(PortOut))
	assert.True(t, errors.Is(err, ErrUnknownPort))

	err = p.Link(Port{Node: 42, Name: PortOut, Output: true}, stereo.In(PortRight))
	assert.True(t, errors.Is(err, ErrUnknownNode))

	err = p.Link(stereo.Out(PortDepth), stereo.In(PortRight))
	assert.Error(t, err)
}

func TestValidateReportsMissingInputsAndOutputs(t *testing.T) {
	p := New()
	twoMonoStereo(p)

	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
	assert.Contains(t, err.Error(), `input "left" is not linked`)
	assert.Contains(t, err.Error(), ErrNoOutputs.Error())
}

func TestValidateDuplicateStreams(t *testing.T) {
	p := New()
	left, right, stereo := twoMonoStereo(p)
	a := p.Create(XLinkOutProperties{StreamName: "depth"})
	b := p.Create(XLinkOutProperties{StreamName: "depth"})

	require.NoError(t, p.Link(left.Out(PortOut), stereo.In(PortLeft)))
	require.NoError(t, p.Link(right.Out(PortOut), stereo.In(PortRight)))
	require.NoError(t, p.Link(stereo.Out(PortDepth), a.In(PortInput)))
	require.NoError(t, p.Link(stereo.Out(PortDisparity), b.In(PortInput)))

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate stream name "depth"`)
}

func TestSourceTracesTap(t *testing.T) {
	p := New()
	left, right, stereo := twoMonoStereo(p)
	out := p.Create(XLinkOutProperties{StreamName: "disp"})
	require.NoError(t, p.Link(left.Out(PortOut), stereo.In(PortLeft)))
	require.NoError(t, p.Link(right.Out(PortOut), stereo.In(PortRight)))
	require.NoError(t, p.Link(stereo.Out(PortDisparity), out.In(PortInput)))
	require.NoError(t, p.Validate())

	src, err := p.Source("disp")
	require.NoError(t, err)
	assert.Equal(t, stereo.ID, src.Node)
	assert.Equal(t, PortDisparity, src.Name)

	_, err = p.Source("nope")
	assert.True(t, errors.Is(err, ErrUnknownTap))
	assert.Equal(t, []string{"disp"}, p.Streams())
}

func TestPropertiesValidate(t *testing.T) {
	nn := yoloNetwork(Options{BlobPath: "x.blob", Confidence: Threshold(0.5)})
	require.NoError(t, nn.Validate())

	bad := nn
	bad.Anchors = []float32{1, 2, 3}
	assert.Error(t, bad.Validate())

	bad = nn
	bad.AnchorMasks = map[string][]int{"side13": {6}}
	assert.Error(t, bad.Validate())

	bad = nn
	bad.DepthLowerThreshold, bad.DepthUpperThreshold = 5000, 100
	assert.Error(t, bad.Validate())

	bad = nn
	bad.ConfidenceThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = nn
	bad.BlobPath = ""
	assert.Error(t, bad.Validate())

	assert.Error(t, ColorCameraProperties{Resolution: Color1080P}.Validate())
	assert.Error(t, MonoCameraProperties{Socket: SocketLeft, Resolution: "999p"}.Validate())
	assert.Error(t, ImageManipProperties{ResizeWidth: 640, ResizeHeight: 640, MaxOutputFrameSize: 10}.Validate())
}

func TestMaxDisparity(t *testing.T) {
	assert.Equal(t, 95.0, StereoDepthProperties{}.MaxDisparity())
	assert.Equal(t, 760.0, StereoDepthProperties{Subpixel: true}.MaxDisparity())
	assert.Equal(t, 190.0, StereoDepthProperties{ExtendedDisparity: true}.MaxDisparity())
}

func TestSpecRoundTrip(t *testing.T) {
	m, err := Lookup(ModelYOLOv8)
	require.NoError(t, err)
	p, err := m.Build(Options{SyncNN: true})
	require.NoError(t, err)

	spec, err := p.Spec()
	require.NoError(t, err)

	back, err := FromSpec(spec)
	require.NoError(t, err)
	require.NoError(t, back.Validate())

	assert.Equal(t, p.Streams(), back.Streams())
	assert.Equal(t, p.Links(), back.Links())
	nn, ok := back.Network()
	require.True(t, ok)
	assert.Equal(t, 80, nn.NumClasses)
	assert.Equal(t, []int{3, 4, 5}, nn.AnchorMasks["side13"])
}

func TestFromSpecRejectsUnknownKind(t *testing.T) {
	_, err := FromSpec(&Spec{Nodes: []NodeSpec{{ID: 0, Kind: "Warp"}}})
	assert.Error(t, err)

	_, err = FromSpec(nil)
	assert.Error(t, err)
}
