// Package detection provides face detection on JPEG frames.
package detection

import (
	"errors"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

var (
	// ErrDetectorUnavailable is returned by NewYuNet in builds without the
	// yunet tag (no OpenCV).
	ErrDetectorUnavailable = errors.New("detection: detector unavailable in this build")

	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrEmptyImage is returned for frames that decode to nothing.
	ErrEmptyImage = errors.New("detection: empty image")
)

// Detection represents a detected face
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// ToRect scales the normalized box to a frame of the given pixel size.
func (d Detection) ToRect(frameW, frameH int) scan.Rect {
	return scan.Rect{
		X: d.X * float64(frameW),
		Y: d.Y * float64(frameH),
		W: d.W * float64(frameW),
		H: d.H * float64(frameH),
	}
}

// Detector is the interface for face detection backends
type Detector interface {
	// Detect finds faces in the image and returns their positions
	Detect(jpeg []byte) ([]Detection, error)

	// Close releases resources
	Close() error
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(jpeg []byte) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(jpeg []byte) ([]Detection, error) { return f(jpeg) }

// Close is a no-op.
func (f DetectorFunc) Close() error { return nil }

// Config holds detector configuration
type Config struct {
	ModelPath        string  `yaml:"model_path"`
	ConfidenceThresh float64 `yaml:"confidence_thresh"` // Minimum confidence (default 0.5)
	InputWidth       int     `yaml:"input_width"`
	InputHeight      int     `yaml:"input_height"`

	// MinFaceArea drops faces smaller than this fraction of the frame,
	// i.e. people walking past behind the customer.
	MinFaceArea float64 `yaml:"min_face_area"`
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
		MinFaceArea:      0.01,
	}
}

// Filter returns the detections covering at least minArea of the frame.
func Filter(dets []Detection, minArea float64) []Detection {
	if minArea <= 0 {
		return dets
	}
	out := dets[:0:0]
	for _, d := range dets {
		if d.Area() >= minArea {
			out = append(out, d)
		}
	}
	return out
}

// SelectBest picks the face to scan when several are in frame.
// Score: confidence * 0.7 + relative area * 0.3, so the customer standing
// closest to the terminal wins ties.
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection
	for i := range dets {
		score := dets[i].Confidence * 0.7
		if maxArea > 0 {
			score += (dets[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}
	return best
}
