package sim

import (
	"fmt"
	"sort"
	"time"
)

var builtins = map[string]func() ScenarioScript{
	// Sitting still with a small gyroscope bias to learn.
	"level": func() ScenarioScript {
		return ScenarioScript{
			Duration:      60 * time.Second,
			MagneticField: []float64{20, 0, -40},
			GyroscopeBias: []float64{0.3, -0.2, 0.1},
			Noise:         Noise{Gyroscope: 0.02, Accelerometer: 0.001, Magnetometer: 0.1, Seed: 1},
			Keyframes:     []Keyframe{{T: 0}},
		}
	},
	// Flat turn through 360 degrees, then hold.
	"spin": func() ScenarioScript {
		return ScenarioScript{
			Duration:      20 * time.Second,
			MagneticField: []float64{20, 0, -40},
			Noise:         Noise{Gyroscope: 0.02, Accelerometer: 0.001, Magnetometer: 0.1, Seed: 2},
			Keyframes: []Keyframe{
				{T: 0},
				{T: 2 * time.Second, Rate: []float64{0, 0, 45}},
				{T: 10 * time.Second},
			},
		}
	},
	// Rotation faster than the gyroscope range for half a second.
	"saturate": func() ScenarioScript {
		return ScenarioScript{
			Duration:       15 * time.Second,
			MagneticField:  []float64{20, 0, -40},
			GyroscopeRange: 2000,
			Keyframes: []Keyframe{
				{T: 0},
				{T: 2 * time.Second, Rate: []float64{2500, 0, 0}},
				{T: 2500 * time.Millisecond},
			},
		}
	},
	// Sustained acceleration followed by a magnetic disturbance.
	"disturbed": func() ScenarioScript {
		return ScenarioScript{
			Duration:      30 * time.Second,
			MagneticField: []float64{20, 0, -40},
			Noise:         Noise{Gyroscope: 0.02, Accelerometer: 0.001, Magnetometer: 0.1, Seed: 3},
			Keyframes: []Keyframe{
				{T: 0},
				{T: 5 * time.Second, Acceleration: []float64{0.5, 0, 0}},
				{T: 12 * time.Second},
				{T: 15 * time.Second, MagneticDisturbance: []float64{0, 40, 0}},
				{T: 22 * time.Second},
			},
		}
	},
}

// Builtin returns a named built-in scenario script.
func Builtin(name string) (ScenarioScript, error) {
	f, ok := builtins[name]
	if !ok {
		return ScenarioScript{}, fmt.Errorf("unknown scenario %q (have %v)", name, BuiltinNames())
	}
	return f(), nil
}

// BuiltinNames lists the built-in scenarios in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
