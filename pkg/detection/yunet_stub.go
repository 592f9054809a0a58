//go:build !yunet

package detection

// NewYuNet reports ErrDetectorUnavailable; build with -tags yunet for the
// OpenCV backend.
func NewYuNet(cfg Config) (Detector, error) {
	return nil, ErrDetectorUnavailable
}
