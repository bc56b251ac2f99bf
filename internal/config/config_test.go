package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imufusion/internal/fusion"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fusion.Convention != "nwu" {
		t.Fatalf("convention=%q want nwu", cfg.Fusion.Convention)
	}
	if *cfg.Fusion.Gain != 0.5 {
		t.Fatalf("gain=%v want 0.5", *cfg.Fusion.Gain)
	}
	if *cfg.Fusion.GyroscopeRange != 2000 {
		t.Fatalf("gyroscope_range=%v want 2000", *cfg.Fusion.GyroscopeRange)
	}
	if *cfg.Fusion.RecoveryTriggerPeriod != 5*time.Second {
		t.Fatalf("recovery_trigger_period=%s want 5s", *cfg.Fusion.RecoveryTriggerPeriod)
	}
	if cfg.Fusion.SampleRate != 100 {
		t.Fatalf("sample_rate=%d want 100", cfg.Fusion.SampleRate)
	}
	if cfg.Sensor.I2CBus != 1 || cfg.Sensor.IMUAddr != 0x68 || cfg.Sensor.MagAddr != 0x0C {
		t.Fatalf("sensor defaults not applied: %+v", cfg.Sensor)
	}
	if !cfg.Sensor.MagnetometerEnabled() {
		t.Fatalf("expected magnetometer enabled by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" || cfg.Log.MaxSizeMB != 10 {
		t.Fatalf("log defaults not applied: %+v", cfg.Log)
	}
	if cfg.Metrics.Interval != 10*time.Second {
		t.Fatalf("metrics.interval=%s want 10s", cfg.Metrics.Interval)
	}
	if cfg.Web.Listen != "" || cfg.Stream.UDPDest != "" {
		t.Fatalf("web/stream should be off by default: %+v %+v", cfg.Web, cfg.Stream)
	}
	if cfg.Stream.Format != "json" {
		t.Fatalf("stream.format=%q want json", cfg.Stream.Format)
	}
	if cfg.Stream.Interval != 100*time.Millisecond {
		t.Fatalf("stream.interval=%s want 100ms", cfg.Stream.Interval)
	}
}

func TestLoad_ExplicitZeroDisables(t *testing.T) {
	path := writeTempConfig(t, `
fusion:
  gain: 0
  gyroscope_range: 0
  acceleration_rejection: 0
  recovery_trigger_period: 0s
sensor:
  magnetometer: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	s, err := cfg.Fusion.Settings()
	if err != nil {
		t.Fatalf("Settings() error: %v", err)
	}
	if s.Gain != 0 || s.GyroscopeRange != 0 || s.AccelerationRejection != 0 || s.RecoveryTriggerPeriod != 0 {
		t.Fatalf("settings=%+v want zeros kept", s)
	}
	if s.MagneticRejection != 10 {
		t.Fatalf("magnetic_rejection=%v want default 10", s.MagneticRejection)
	}
	if cfg.Sensor.MagnetometerEnabled() {
		t.Fatalf("expected magnetometer disabled")
	}
}

func TestFusionOptions(t *testing.T) {
	path := writeTempConfig(t, `
fusion:
  convention: NED
  gain: 0.25
  magnetic_rejection: 20
  recovery_trigger_period: 2500ms
  sample_rate: 200
calibration:
  gyroscope:
    offset: [0.1, -0.2, 0.3]
  magnetometer:
    soft_iron: [2, 0, 0, 0, 2, 0, 0, 0, 2]
    hard_iron: [10, 20, 30]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	opts, err := cfg.FusionOptions()
	if err != nil {
		t.Fatalf("FusionOptions() error: %v", err)
	}
	if opts.Settings.Convention != fusion.ConventionNED {
		t.Fatalf("convention=%v want ned", opts.Settings.Convention)
	}
	if opts.Settings.Gain != 0.25 {
		t.Fatalf("gain=%v want 0.25", opts.Settings.Gain)
	}
	if opts.Settings.RecoveryTriggerPeriod != 500 {
		t.Fatalf("recovery period=%d want 500 samples", opts.Settings.RecoveryTriggerPeriod)
	}
	if opts.SampleRate != 200 {
		t.Fatalf("sample rate=%d want 200", opts.SampleRate)
	}

	cal := opts.Calibration
	if cal.GyroscopeOffset != (fusion.Vector{X: 0.1, Y: -0.2, Z: 0.3}) {
		t.Fatalf("gyro offset=%+v", cal.GyroscopeOffset)
	}
	if cal.GyroscopeMisalignment != fusion.MatrixIdentity {
		t.Fatalf("gyro misalignment=%+v want identity", cal.GyroscopeMisalignment)
	}
	if cal.AccelerometerSensitivity != fusion.VectorOnes {
		t.Fatalf("accel sensitivity=%+v want ones", cal.AccelerometerSensitivity)
	}
	got := cal.Magnetometer(fusion.Vector{X: 11, Y: 22, Z: 33})
	if got != (fusion.Vector{X: 2, Y: 4, Z: 6}) {
		t.Fatalf("magnetometer=%+v want {2 4 6}", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "Convention",
			body: "fusion:\n  convention: xyz\n",
			want: "fusion.convention must be nwu, enu or ned",
		},
		{
			name: "NegativeGain",
			body: "fusion:\n  gain: -1\n",
			want: "fusion.gain must be >= 0",
		},
		{
			name: "RejectionAngle",
			body: "fusion:\n  acceleration_rejection: 200\n",
			want: "fusion.acceleration_rejection must be in [0, 180]",
		},
		{
			name: "NegativePeriod",
			body: "fusion:\n  recovery_trigger_period: -1s\n",
			want: "fusion.recovery_trigger_period must be >= 0",
		},
		{
			name: "SampleRate",
			body: "fusion:\n  sample_rate: 5000\n",
			want: "fusion.sample_rate must be in (0, 1125]",
		},
		{
			name: "MisalignmentLength",
			body: "calibration:\n  accelerometer:\n    misalignment: [1, 0, 0]\n",
			want: "calibration.accelerometer.misalignment must have 9 values (got 3)",
		},
		{
			name: "HardIronLength",
			body: "calibration:\n  magnetometer:\n    hard_iron: [1, 2]\n",
			want: "calibration.magnetometer.hard_iron must have 3 values (got 2)",
		},
		{
			name: "IMUAddr",
			body: "sensor:\n  imu_addr: 0x80\n",
			want: "sensor.imu_addr must be a 7-bit address",
		},
		{
			name: "ForwardAxis",
			body: "sensor:\n  forward_axis: 4\n",
			want: "sensor.forward_axis must be one of +/-1, +/-2, +/-3",
		},
		{
			name: "GravityNeedsForward",
			body: "sensor:\n  gravity: [0, 0, 1]\n",
			want: "sensor.forward_axis is required when sensor.gravity is set",
		},
		{
			name: "GravityLength",
			body: "sensor:\n  forward_axis: 1\n  gravity: [0, 1]\n",
			want: "sensor.gravity must have 3 values",
		},
		{
			name: "RecordRequiresPath",
			body: "record:\n  enable: true\n",
			want: "record.path is required when record.enable is true",
		},
		{
			name: "LogLevel",
			body: "log:\n  level: verbose\n",
			want: "log.level must be debug, info, warn or error",
		},
		{
			name: "LogFormat",
			body: "log:\n  format: xml\n",
			want: "log.format must be text or json",
		},
		{
			name: "MetricsInterval",
			body: "metrics:\n  interval: -5s\n",
			want: "metrics.interval must be >= 0",
		},
		{
			name: "StreamInterval",
			body: "stream:\n  interval: -1s\n",
			want: "stream.interval must be >= 0",
		},
		{
			name: "StreamFormat",
			body: "stream:\n  format: nmea\n",
			want: "stream.format must be json or gdl90",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.body)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "fusion:\n  gian: 0.5\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field gian not found in type config.FusionConfig")
}

func TestLoad_TypeMismatch(t *testing.T) {
	path := writeTempConfig(t, "fusion:\n  sample_rate: fast\n")
	_, err := Load(path)
	if err == nil || !strings.HasPrefix(err.Error(), "config: ") {
		t.Fatalf("err=%v want config: type error", err)
	}
}

func TestDefaultAndValidate_Idempotent(t *testing.T) {
	cfg := Default()
	before := *cfg.Fusion.Gain
	if err := DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	if *cfg.Fusion.Gain != before {
		t.Fatalf("gain changed on second pass")
	}
	if err := DefaultAndValidate(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
