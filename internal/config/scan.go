package config

import (
	"fmt"

	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/acquire"
	"github.com/banshee-data/linescan/internal/scan/assemble"
	"github.com/banshee-data/linescan/internal/scan/transport"
	"github.com/banshee-data/linescan/internal/timeutil"
)

// ScanOptions are the per-scan settings chosen by the user.
type ScanOptions struct {
	Mode       string `json:"mode"`
	Resolution int    `json:"resolution"` // dpi; 0 selects the native resolution
	Width      int    `json:"width"`      // pixels; 0 selects the device maximum
	Lines      int    `json:"lines"`      // scan.UnknownLines lets the device decide
	ThreePass  *bool  `json:"three_pass,omitempty"`
}

// Validate checks the options on their own.
func (o ScanOptions) Validate() error {
	if _, err := acquire.ParseMode(o.Mode); err != nil {
		return err
	}
	if o.Resolution < 0 {
		return fmt.Errorf("resolution must be non-negative, got %d: %w", o.Resolution, scan.ErrInvalid)
	}
	if o.Width < 0 {
		return fmt.Errorf("width must be non-negative, got %d: %w", o.Width, scan.ErrInvalid)
	}
	if o.Lines < scan.UnknownLines {
		return fmt.Errorf("lines must be -1 or more, got %d: %w", o.Lines, scan.ErrInvalid)
	}
	return nil
}

// SessionConfig combines the profile and the scan options into the settings
// of an acquisition session on tr.
func (c *DeviceConfig) SessionConfig(o ScanOptions, tr transport.Transport, clock timeutil.Clock) (acquire.Config, error) {
	if err := o.Validate(); err != nil {
		return acquire.Config{}, err
	}
	mode, _ := acquire.ParseMode(o.Mode)

	res := o.Resolution
	if res == 0 {
		res = c.GetNativeResolution()
	}
	width := o.Width
	if width == 0 {
		width = c.GetMaxWidthPixels()
		if width == 0 {
			return acquire.Config{}, fmt.Errorf("width is required when the device has no maximum: %w", scan.ErrInvalid)
		}
	}
	threePass := c.GetThreePass()
	if o.ThreePass != nil {
		threePass = *o.ThreePass
	}

	return acquire.Config{
		Transport:        tr,
		Geometry:         c.GetGeometry(),
		Mode:             mode,
		Resolution:       res,
		Width:            width,
		Lines:            o.Lines,
		ThreePass:        threePass,
		MaxWidth:         c.GetMaxWidthPixels(),
		InterleavedColor: c.GetInterleavedColor(),
		Pipelined:        c.GetPipelined(),
		PipelineDepth:    c.GetPipelineDepth(),
		Clock:            clock,
	}, nil
}

// AssemblerOptions returns the raster settings of the profile.
func (c *DeviceConfig) AssemblerOptions() assemble.Options {
	return assemble.Options{
		GrowRows: c.GetGrowRows(),
		MaxBytes: c.GetMaxBufferBytes(),
	}
}
