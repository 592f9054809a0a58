// Package camera holds runtime-configurable capture settings for the scan
// camera: resolution, JPEG quality and which lens faces the customer.
package camera

import "net/url"

// Facing values.
const (
	FacingUser        = "user"        // front camera, customer-facing phone
	FacingEnvironment = "environment" // rear camera, or a fixed kiosk camera
)

// Config holds the capture parameters sent to a frame source.
// These can be modified via the camera API at runtime.
type Config struct {
	Width     int    `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int    `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int    `json:"framerate" yaml:"framerate"` // Target FPS for streaming sources
	Quality   int    `json:"quality" yaml:"quality"`     // JPEG quality 1-100
	Facing    string `json:"facing" yaml:"facing"`
	Mirror    bool   `json:"mirror" yaml:"mirror"` // flip horizontally before detection
}

// Capture limits.
const (
	MinWidth  = 160
	MinHeight = 120
	MaxWidth  = 3840
	MaxHeight = 2160
)

// DefaultConfig returns 640x480, which is enough for a face filling the
// scan oval while keeping detection fast on a POS tablet.
func DefaultConfig() Config {
	return Config{
		Width:     640,
		Height:    480,
		Framerate: 15,
		Quality:   85,
		Facing:    FacingUser,
		Mirror:    true,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 60 {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.Facing != "" && c.Facing != FacingUser && c.Facing != FacingEnvironment {
		errors = append(errors, "facing must be user or environment")
	}

	return errors
}

// Query encodes the capture parameters for a snapshot request.
func (c Config) Query() url.Values {
	q := url.Values{}
	q.Set("width", itoa(c.Width))
	q.Set("height", itoa(c.Height))
	q.Set("quality", itoa(c.Quality))
	if c.Facing != "" {
		q.Set("facing", c.Facing)
	}
	return q
}
