package ahrs

import (
	"fmt"
	"log/slog"

	"imufusion/internal/config"
	"imufusion/internal/fusion"
	"imufusion/internal/telemetry"
)

type Config struct {
	Fusion     fusion.Options
	SampleRate int

	I2CBus       int
	IMUAddr      uint16
	MagAddr      uint16
	Magnetometer bool

	// DRDYChip empty means a ticker at SampleRate paces reads.
	DRDYChip string
	DRDYLine int

	OrientationForwardAxis int
	OrientationGravitySet  bool
	OrientationGravity     [3]float64

	// RecordPath, when set, receives every raw sample in imulog format.
	RecordPath string

	Logger    *slog.Logger
	Telemetry *telemetry.Recorder
}

// FromConfig maps a validated file config onto the service Config. Logger
// and Telemetry are left for the caller.
func FromConfig(c config.Config) (Config, error) {
	opts, err := c.FusionOptions()
	if err != nil {
		return Config{}, fmt.Errorf("ahrs: %w", err)
	}
	out := Config{
		Fusion:                 opts,
		SampleRate:             c.Fusion.SampleRate,
		I2CBus:                 c.Sensor.I2CBus,
		IMUAddr:                c.Sensor.IMUAddr,
		MagAddr:                c.Sensor.MagAddr,
		Magnetometer:           c.Sensor.MagnetometerEnabled(),
		DRDYChip:               c.Sensor.DRDYChip,
		DRDYLine:               c.Sensor.DRDYLine,
		OrientationForwardAxis: c.Sensor.ForwardAxis,
	}
	if len(c.Sensor.Gravity) == 3 {
		out.OrientationGravitySet = true
		copy(out.OrientationGravity[:], c.Sensor.Gravity)
	}
	if c.Record.Enable {
		out.RecordPath = c.Record.Path
	}
	return out, nil
}
