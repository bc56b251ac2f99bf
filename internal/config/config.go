package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imufusion/internal/fusion"
)

type Config struct {
	Fusion      FusionConfig      `yaml:"fusion"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Record      RecordConfig      `yaml:"record"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Web         WebConfig         `yaml:"web"`
	Stream      StreamConfig      `yaml:"stream"`
}

// FusionConfig holds the AHRS settings. Pointer fields distinguish "absent"
// (use the default) from an explicit 0, which disables the feature.
type FusionConfig struct {
	Convention            string         `yaml:"convention"`
	Gain                  *float64       `yaml:"gain"`
	GyroscopeRange        *float64       `yaml:"gyroscope_range"`
	AccelerationRejection *float64       `yaml:"acceleration_rejection"`
	MagneticRejection     *float64       `yaml:"magnetic_rejection"`
	RecoveryTriggerPeriod *time.Duration `yaml:"recovery_trigger_period"`
	SampleRate            int            `yaml:"sample_rate"`
}

type CalibrationConfig struct {
	Gyroscope     InertialCalibration `yaml:"gyroscope"`
	Accelerometer InertialCalibration `yaml:"accelerometer"`
	Magnetometer  MagneticCalibration `yaml:"magnetometer"`
}

// InertialCalibration: misalignment is a row-major 3x3 matrix.
type InertialCalibration struct {
	Misalignment []float64 `yaml:"misalignment"`
	Sensitivity  []float64 `yaml:"sensitivity"`
	Offset       []float64 `yaml:"offset"`
}

type MagneticCalibration struct {
	SoftIron []float64 `yaml:"soft_iron"`
	HardIron []float64 `yaml:"hard_iron"`
}

type SensorConfig struct {
	I2CBus       int    `yaml:"i2c_bus"`
	IMUAddr      uint16 `yaml:"imu_addr"`
	MagAddr      uint16 `yaml:"mag_addr"`
	Magnetometer *bool  `yaml:"magnetometer"`

	// DRDYChip/DRDYLine select the GPIO wired to the IMU INT pin. Empty chip
	// means samples are paced by a ticker instead.
	DRDYChip string `yaml:"drdy_chip"`
	DRDYLine int    `yaml:"drdy_line"`

	// ForwardAxis (+/-1..3) and Gravity describe how the sensor is mounted.
	// Both unset means the sensor frame is the body frame.
	ForwardAxis int       `yaml:"forward_axis"`
	Gravity     []float64 `yaml:"gravity"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// WebConfig enables the HTTP API when Listen is set (e.g. ":8080").
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// StreamConfig publishes the attitude every Interval to the SSE endpoint
// and, when UDPDest is set, as UDP datagrams. Format is json (one object per
// datagram) or gdl90 (heartbeat plus AHRS messages).
type StreamConfig struct {
	UDPDest  string        `yaml:"udp_dest"`
	Format   string        `yaml:"format"`
	Interval time.Duration `yaml:"interval"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes a YAML document strictly: unknown keys are errors so typos
// do not silently fall back to defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			msgs := stripLines(te.Errors)
			if allUnknownFields(msgs) {
				return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
			}
			return Config{}, fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripLines drops the "line N: " prefix yaml.v3 puts on each error.
func stripLines(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if strings.HasPrefix(e, "line ") {
			if i := strings.Index(e, ": "); i >= 0 {
				e = e[i+2:]
			}
		}
		out = append(out, e)
	}
	return out
}

func allUnknownFields(msgs []string) bool {
	for _, m := range msgs {
		if !strings.HasPrefix(m, "field ") || !strings.Contains(m, " not found in type ") {
			return false
		}
	}
	return len(msgs) > 0
}

// Default returns a fully defaulted configuration.
func Default() Config {
	var cfg Config
	// The zero config always validates.
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func float64Ptr(v float64) *float64 { return &v }

// DefaultAndValidate fills absent keys with defaults and rejects invalid
// values. It is idempotent.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	f := &cfg.Fusion
	f.Convention = strings.ToLower(strings.TrimSpace(f.Convention))
	if f.Convention == "" {
		f.Convention = fusion.ConventionNWU.String()
	}
	if _, err := fusion.ParseConvention(f.Convention); err != nil {
		return fmt.Errorf("fusion.convention must be nwu, enu or ned")
	}
	if f.Gain == nil {
		f.Gain = float64Ptr(0.5)
	}
	if *f.Gain < 0 {
		return fmt.Errorf("fusion.gain must be >= 0")
	}
	if f.GyroscopeRange == nil {
		f.GyroscopeRange = float64Ptr(2000)
	}
	if *f.GyroscopeRange < 0 {
		return fmt.Errorf("fusion.gyroscope_range must be >= 0")
	}
	if f.AccelerationRejection == nil {
		f.AccelerationRejection = float64Ptr(10)
	}
	if *f.AccelerationRejection < 0 || *f.AccelerationRejection > 180 {
		return fmt.Errorf("fusion.acceleration_rejection must be in [0, 180]")
	}
	if f.MagneticRejection == nil {
		f.MagneticRejection = float64Ptr(10)
	}
	if *f.MagneticRejection < 0 || *f.MagneticRejection > 180 {
		return fmt.Errorf("fusion.magnetic_rejection must be in [0, 180]")
	}
	if f.RecoveryTriggerPeriod == nil {
		d := 5 * time.Second
		f.RecoveryTriggerPeriod = &d
	}
	if *f.RecoveryTriggerPeriod < 0 {
		return fmt.Errorf("fusion.recovery_trigger_period must be >= 0")
	}
	if f.SampleRate == 0 {
		f.SampleRate = 100
	}
	if f.SampleRate < 0 || f.SampleRate > 1125 {
		return fmt.Errorf("fusion.sample_rate must be in (0, 1125]")
	}

	c := &cfg.Calibration
	if err := checkLen("calibration.gyroscope.misalignment", c.Gyroscope.Misalignment, 9); err != nil {
		return err
	}
	if err := checkLen("calibration.gyroscope.sensitivity", c.Gyroscope.Sensitivity, 3); err != nil {
		return err
	}
	if err := checkLen("calibration.gyroscope.offset", c.Gyroscope.Offset, 3); err != nil {
		return err
	}
	if err := checkLen("calibration.accelerometer.misalignment", c.Accelerometer.Misalignment, 9); err != nil {
		return err
	}
	if err := checkLen("calibration.accelerometer.sensitivity", c.Accelerometer.Sensitivity, 3); err != nil {
		return err
	}
	if err := checkLen("calibration.accelerometer.offset", c.Accelerometer.Offset, 3); err != nil {
		return err
	}
	if err := checkLen("calibration.magnetometer.soft_iron", c.Magnetometer.SoftIron, 9); err != nil {
		return err
	}
	if err := checkLen("calibration.magnetometer.hard_iron", c.Magnetometer.HardIron, 3); err != nil {
		return err
	}

	s := &cfg.Sensor
	if s.I2CBus == 0 {
		s.I2CBus = 1
	}
	if s.I2CBus < 0 {
		return fmt.Errorf("sensor.i2c_bus must be >= 0")
	}
	if s.IMUAddr == 0 {
		s.IMUAddr = 0x68
	}
	if s.MagAddr == 0 {
		s.MagAddr = 0x0C
	}
	if s.IMUAddr > 0x7F {
		return fmt.Errorf("sensor.imu_addr must be a 7-bit address")
	}
	if s.MagAddr > 0x7F {
		return fmt.Errorf("sensor.mag_addr must be a 7-bit address")
	}
	if s.Magnetometer == nil {
		v := true
		s.Magnetometer = &v
	}
	s.DRDYChip = strings.TrimSpace(s.DRDYChip)
	if s.DRDYChip != "" && s.DRDYLine < 0 {
		return fmt.Errorf("sensor.drdy_line must be >= 0")
	}
	if s.ForwardAxis < -3 || s.ForwardAxis > 3 {
		return fmt.Errorf("sensor.forward_axis must be one of +/-1, +/-2, +/-3")
	}
	if len(s.Gravity) != 0 {
		if len(s.Gravity) != 3 {
			return fmt.Errorf("sensor.gravity must have 3 values")
		}
		if s.ForwardAxis == 0 {
			return fmt.Errorf("sensor.forward_axis is required when sensor.gravity is set")
		}
	}

	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	l := &cfg.Log
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 7
	}

	if cfg.Metrics.Interval < 0 {
		return fmt.Errorf("metrics.interval must be >= 0")
	}
	if cfg.Metrics.Interval == 0 {
		cfg.Metrics.Interval = 10 * time.Second
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	cfg.Stream.UDPDest = strings.TrimSpace(cfg.Stream.UDPDest)
	if cfg.Stream.Interval < 0 {
		return fmt.Errorf("stream.interval must be >= 0")
	}
	if cfg.Stream.Interval == 0 {
		cfg.Stream.Interval = 100 * time.Millisecond
	}
	cfg.Stream.Format = strings.ToLower(strings.TrimSpace(cfg.Stream.Format))
	if cfg.Stream.Format == "" {
		cfg.Stream.Format = "json"
	}
	if cfg.Stream.Format != "json" && cfg.Stream.Format != "gdl90" {
		return fmt.Errorf("stream.format must be json or gdl90")
	}
	return nil
}

func checkLen(key string, v []float64, n int) error {
	if len(v) != 0 && len(v) != n {
		return fmt.Errorf("%s must have %d values (got %d)", key, n, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] must be finite", key, i)
		}
	}
	return nil
}

// Settings converts the fusion section. The recovery trigger period is
// expressed in samples at the configured sample rate.
func (f FusionConfig) Settings() (fusion.Settings, error) {
	conv, err := fusion.ParseConvention(f.Convention)
	if err != nil {
		return fusion.Settings{}, err
	}
	var period int
	if f.RecoveryTriggerPeriod != nil {
		period = int(math.Round(f.RecoveryTriggerPeriod.Seconds() * float64(f.SampleRate)))
	}
	return fusion.Settings{
		Convention:            conv,
		Gain:                  float32(deref(f.Gain)),
		GyroscopeRange:        float32(deref(f.GyroscopeRange)),
		AccelerationRejection: float32(deref(f.AccelerationRejection)),
		MagneticRejection:     float32(deref(f.MagneticRejection)),
		RecoveryTriggerPeriod: period,
	}, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Calibration converts the calibration section; absent entries fall back to
// the pass-through defaults.
func (c CalibrationConfig) Calibration() fusion.Calibration {
	cal := fusion.DefaultCalibration()
	cal.GyroscopeMisalignment = matrixOr(c.Gyroscope.Misalignment, cal.GyroscopeMisalignment)
	cal.GyroscopeSensitivity = vectorOr(c.Gyroscope.Sensitivity, cal.GyroscopeSensitivity)
	cal.GyroscopeOffset = vectorOr(c.Gyroscope.Offset, cal.GyroscopeOffset)
	cal.AccelerometerMisalignment = matrixOr(c.Accelerometer.Misalignment, cal.AccelerometerMisalignment)
	cal.AccelerometerSensitivity = vectorOr(c.Accelerometer.Sensitivity, cal.AccelerometerSensitivity)
	cal.AccelerometerOffset = vectorOr(c.Accelerometer.Offset, cal.AccelerometerOffset)
	cal.SoftIron = matrixOr(c.Magnetometer.SoftIron, cal.SoftIron)
	cal.HardIron = vectorOr(c.Magnetometer.HardIron, cal.HardIron)
	return cal
}

func vectorOr(v []float64, def fusion.Vector) fusion.Vector {
	if len(v) != 3 {
		return def
	}
	return fusion.Vector{X: float32(v[0]), Y: float32(v[1]), Z: float32(v[2])}
}

func matrixOr(v []float64, def fusion.Matrix) fusion.Matrix {
	if len(v) != 9 {
		return def
	}
	var rows [9]float32
	for i := range rows {
		rows[i] = float32(v[i])
	}
	return fusion.MatrixFromRows(rows)
}

// FusionOptions assembles everything fusion.New needs.
func (c Config) FusionOptions() (fusion.Options, error) {
	settings, err := c.Fusion.Settings()
	if err != nil {
		return fusion.Options{}, err
	}
	return fusion.Options{
		Settings:    settings,
		SampleRate:  uint(c.Fusion.SampleRate),
		Calibration: c.Calibration.Calibration(),
	}, nil
}

// MagnetometerEnabled reports whether the magnetometer should be used.
func (s SensorConfig) MagnetometerEnabled() bool {
	return s.Magnetometer == nil || *s.Magnetometer
}
