package linedist

import (
	"fmt"
	"math"

	"github.com/banshee-data/linescan/internal/scan"
)

// Model selects how per-channel distances are derived from the device
// geometry.
type Model string

const (
	// ModelNone disables correction: every line passes straight through.
	ModelNone Model = "none"
	// ModelPerChannel uses explicit red/green/blue distances.
	ModelPerChannel Model = "per_channel"
	// ModelUniform places the sensors evenly: red 0, green step, blue 2*step.
	ModelUniform Model = "uniform"
)

// Geometry describes the sensor offsets of a device at its native
// (calibration) resolution.
type Geometry struct {
	Model            Model
	Red, Green, Blue int // rows at NativeResolution, ModelPerChannel only
	UniformStep      int // rows at NativeResolution, ModelUniform only
	NativeResolution int // dpi the distances were measured at
}

// nativeDistance returns the configured distance for c before quantisation.
func (g Geometry) nativeDistance(c scan.Channel) int {
	switch g.Model {
	case ModelPerChannel:
		switch c {
		case scan.ChannelRed:
			return g.Red
		case scan.ChannelGreen:
			return g.Green
		case scan.ChannelBlue:
			return g.Blue
		case scan.ChannelNone:
			return 0
		}
	case ModelUniform:
		switch c {
		case scan.ChannelGreen:
			return g.UniformStep
		case scan.ChannelBlue:
			return 2 * g.UniformStep
		case scan.ChannelRed, scan.ChannelNone:
			return 0
		}
	case ModelNone:
		return 0
	}
	return 0
}

// hasDistances reports whether any distance constant is set, regardless of
// the selected model.
func (g Geometry) hasDistances() bool {
	return g.Red != 0 || g.Green != 0 || g.Blue != 0 || g.UniformStep != 0
}

// check reports a configuration that cannot be corrected. A non-nil result
// wraps scan.ErrConfigMismatch.
func (g Geometry) check() error {
	switch g.Model {
	case ModelNone:
		if g.hasDistances() {
			return fmt.Errorf("model %q with distance constants set: %w", g.Model, scan.ErrConfigMismatch)
		}
		return nil
	case ModelPerChannel, ModelUniform:
	default:
		return fmt.Errorf("unknown line-distance model %q: %w", g.Model, scan.ErrConfigMismatch)
	}
	if g.Red < 0 || g.Green < 0 || g.Blue < 0 || g.UniformStep < 0 {
		return fmt.Errorf("negative line distance: %w", scan.ErrConfigMismatch)
	}
	if g.NativeResolution <= 0 && g.hasDistances() {
		return fmt.Errorf("distances given without a native resolution: %w", scan.ErrConfigMismatch)
	}
	return nil
}

// Quantize scales a native-resolution distance to the scan resolution and
// rounds to the nearest whole line. It returns the scaled distance and the
// quantisation factor that was applied.
func Quantize(native, nativeRes, res int) (int, float64) {
	if native == 0 {
		return 0, 1
	}
	if res <= 0 || nativeRes <= 0 || res == nativeRes {
		return native, 1
	}
	q := float64(res) / float64(nativeRes)
	return int(math.Round(float64(native) * q)), q
}

// Distance returns the distance of c in rows at scan resolution res. A
// geometry that fails its consistency check has no distances.
func (g Geometry) Distance(c scan.Channel, res int) int {
	if g.check() != nil {
		return 0
	}
	d, _ := Quantize(g.nativeDistance(c), g.NativeResolution, res)
	return d
}
