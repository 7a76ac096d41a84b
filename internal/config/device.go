package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/linescan/internal/fsutil"
	"github.com/banshee-data/linescan/internal/scan/linedist"
	"github.com/banshee-data/linescan/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical device profile.
const DefaultConfigPath = "config/scanner.defaults.json"

// ChannelDistances are per-channel sensor offsets in rows at the native
// resolution.
type ChannelDistances struct {
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

// DeviceConfig is the device profile. Fields omitted from the JSON fall back
// to the defaults returned by the Get* methods.
type DeviceConfig struct {
	Name *string `json:"name,omitempty"`

	// Sensor geometry
	NativeResolution  *int              `json:"native_resolution,omitempty"`
	LineDistanceModel *string           `json:"line_distance_model,omitempty"` // "none", "per_channel" or "uniform"
	Distances         *ChannelDistances `json:"distances,omitempty"`
	UniformStep       *int              `json:"uniform_step,omitempty"`

	// Capabilities
	MaxWidthPixels   *int  `json:"max_width_pixels,omitempty"`
	ThreePass        *bool `json:"three_pass,omitempty"`
	InterleavedColor *bool `json:"interleaved_color,omitempty"`

	// Host buffering
	GrowRows       *int   `json:"grow_rows,omitempty"`
	MaxBufferBytes *int64 `json:"max_buffer_bytes,omitempty"`
	Pipelined      *bool  `json:"pipelined,omitempty"`
	PipelineDepth  *int   `json:"pipeline_depth,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }
func ptrInt64(v int64) *int64    { return &v }
func ptrString(v string) *string { return &v }

// EmptyDeviceConfig returns a DeviceConfig with every field unset.
func EmptyDeviceConfig() *DeviceConfig {
	return &DeviceConfig{}
}

// DefaultDeviceConfig returns a profile with every field set to its default:
// a device with no sensor offsets on the default serial settings.
func DefaultDeviceConfig() *DeviceConfig {
	empty := EmptyDeviceConfig()
	serial := empty.GetSerial()
	return &DeviceConfig{
		Name:              ptrString(empty.GetName()),
		NativeResolution:  ptrInt(empty.GetNativeResolution()),
		LineDistanceModel: ptrString(empty.GetLineDistanceModel()),
		MaxWidthPixels:    ptrInt(empty.GetMaxWidthPixels()),
		ThreePass:         ptrBool(empty.GetThreePass()),
		InterleavedColor:  ptrBool(empty.GetInterleavedColor()),
		GrowRows:          ptrInt(empty.GetGrowRows()),
		MaxBufferBytes:    ptrInt64(empty.GetMaxBufferBytes()),
		Pipelined:         ptrBool(empty.GetPipelined()),
		PipelineDepth:     ptrInt(empty.GetPipelineDepth()),
		Serial:            &serial,
	}
}

// LoadDeviceConfig loads a device profile from a JSON file on fsys.
// The file must have a .json extension and be at most 1 MiB.
func LoadDeviceConfig(fsys fsutil.FileSystem, path string) (*DeviceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDeviceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the profile for values no scan could use. Inconsistent
// line-distance settings are not rejected here: the corrector disables
// itself and logs the problem when a pass starts.
func (c *DeviceConfig) Validate() error {
	if c.NativeResolution != nil && *c.NativeResolution <= 0 {
		return fmt.Errorf("native_resolution must be positive, got %d", *c.NativeResolution)
	}
	if c.MaxWidthPixels != nil && *c.MaxWidthPixels < 0 {
		return fmt.Errorf("max_width_pixels must be non-negative, got %d", *c.MaxWidthPixels)
	}
	if c.GrowRows != nil && *c.GrowRows <= 0 {
		return fmt.Errorf("grow_rows must be positive, got %d", *c.GrowRows)
	}
	if c.MaxBufferBytes != nil && *c.MaxBufferBytes < 0 {
		return fmt.Errorf("max_buffer_bytes must be non-negative, got %d", *c.MaxBufferBytes)
	}
	if c.PipelineDepth != nil && *c.PipelineDepth <= 0 {
		return fmt.Errorf("pipeline_depth must be positive, got %d", *c.PipelineDepth)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	return nil
}

// GetName returns the device name or the default.
func (c *DeviceConfig) GetName() string {
	if c.Name == nil || *c.Name == "" {
		return "linescan"
	}
	return *c.Name
}

// GetNativeResolution returns the calibration resolution in dpi.
func (c *DeviceConfig) GetNativeResolution() int {
	if c.NativeResolution == nil {
		return 600 // default
	}
	return *c.NativeResolution
}

// GetLineDistanceModel returns the line-distance model name.
func (c *DeviceConfig) GetLineDistanceModel() string {
	if c.LineDistanceModel == nil || *c.LineDistanceModel == "" {
		return string(linedist.ModelNone)
	}
	return *c.LineDistanceModel
}

// GetGeometry assembles the sensor geometry for the corrector.
func (c *DeviceConfig) GetGeometry() linedist.Geometry {
	g := linedist.Geometry{
		Model:            linedist.Model(c.GetLineDistanceModel()),
		NativeResolution: c.GetNativeResolution(),
	}
	if c.Distances != nil {
		g.Red, g.Green, g.Blue = c.Distances.Red, c.Distances.Green, c.Distances.Blue
	}
	if c.UniformStep != nil {
		g.UniformStep = *c.UniformStep
	}
	return g
}

// GetMaxWidthPixels returns the widest line the device delivers; zero means
// unlimited.
func (c *DeviceConfig) GetMaxWidthPixels() int {
	if c.MaxWidthPixels == nil {
		return 5100 // 8.5 in at 600 dpi
	}
	return *c.MaxWidthPixels
}

// GetThreePass reports whether colour scans take one pass per channel.
func (c *DeviceConfig) GetThreePass() bool {
	if c.ThreePass == nil {
		return false
	}
	return *c.ThreePass
}

// GetInterleavedColor reports whether single-pass colour lines arrive
// pixel-interleaved.
func (c *DeviceConfig) GetInterleavedColor() bool {
	if c.InterleavedColor == nil {
		return false
	}
	return *c.InterleavedColor
}

// GetGrowRows returns the raster growth increment in rows.
func (c *DeviceConfig) GetGrowRows() int {
	if c.GrowRows == nil {
		return 256 // default
	}
	return *c.GrowRows
}

// GetMaxBufferBytes returns the raster size limit; zero means unlimited.
func (c *DeviceConfig) GetMaxBufferBytes() int64 {
	if c.MaxBufferBytes == nil {
		return 1 << 30 // default
	}
	return *c.MaxBufferBytes
}

// GetPipelined reports whether frames are produced by a worker goroutine.
func (c *DeviceConfig) GetPipelined() bool {
	if c.Pipelined == nil {
		return false
	}
	return *c.Pipelined
}

// GetPipelineDepth returns how many rows the worker may run ahead.
func (c *DeviceConfig) GetPipelineDepth() int {
	if c.PipelineDepth == nil {
		return 16 // default
	}
	return *c.PipelineDepth
}

// GetSerial returns the normalised serial port options.
func (c *DeviceConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	n, err := opts.Normalize()
	if err != nil {
		n, _ = serialmux.PortOptions{}.Normalize()
	}
	return n
}
