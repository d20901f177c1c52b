package models

import "time"

// Point3f is a spatial coordinate in millimeters, camera frame.
type Point3f struct {
	X float32 `json:"x" cbor:"x"`
	Y float32 `json:"y" cbor:"y"`
	Z float32 `json:"z" cbor:"z"`
}

// SpatialDetection is a detection box augmented with a depth-derived 3-D coordinate.
// Box edges are normalized to the frame the network ran on.
type SpatialDetection struct {
	Label      int     `json:"label" cbor:"label"`
	Confidence float32 `json:"confidence" cbor:"confidence"`
	XMin       float32 `json:"xmin" cbor:"xmin"`
	YMin       float32 `json:"ymin" cbor:"ymin"`
	XMax       float32 `json:"xmax" cbor:"xmax"`
	YMax       float32 `json:"ymax" cbor:"ymax"`
	Spatial    Point3f `json:"spatial" cbor:"spatial"`
}

// Denormalize maps the normalized box onto a width x height frame.
func (d SpatialDetection) Denormalize(width, height int) Box {
	return Box{
		X1: int(d.XMin * float32(width)),
		Y1: int(d.YMin * float32(height)),
		X2: int(d.XMax * float32(width)),
		Y2: int(d.YMax * float32(height)),
	}
}

// SpatialImgDetections is the detection-network output for one frame.
type SpatialImgDetections struct {
	Sequence   int64              `json:"sequence" cbor:"seq"`
	Timestamp  time.Duration      `json:"timestamp" cbor:"ts"`
	Detections []SpatialDetection `json:"detections" cbor:"detections"`
}

func (d *SpatialImgDetections) Seq() int64          { return d.Sequence }
func (d *SpatialImgDetections) Time() time.Duration { return d.Timestamp }

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// DetectionResult is the labelled, host-facing view of a detection.
type DetectionResult struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
	Spatial    Point3f   `json:"spatial"`
}

// Resolve attaches label names to raw detections.
func Resolve(dets []SpatialDetection, labels LabelMap) []DetectionResult {
	out := make([]DetectionResult, 0, len(dets))
	for _, d := range dets {
		out = append(out, DetectionResult{
			Label:      labels.Name(d.Label),
			Confidence: d.Confidence,
			Box:        []float32{d.XMin, d.YMin, d.XMax, d.YMax},
			Spatial:    d.Spatial,
		})
	}
	return out
}
