package sim

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"imufusion/internal/fusion"
	"imufusion/internal/imulog"
)

// ScenarioScript is a deterministic, script-driven IMU motion description.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	sample_rate: 100
//	convention: nwu
//	initial: {roll: 0, pitch: 0, yaw: 0}
//	magnetic_field: [20, 0, -40]
//	gyroscope_bias: [0.2, -0.1, 0.05]
//	gyroscope_range: 2000
//	noise: {gyroscope: 0.05, accelerometer: 0.002, magnetometer: 0.2, seed: 1}
//	keyframes:
//	  - t: 0s
//	    rate: [0, 0, 90]
//	    acceleration: [0, 0, 0]
//	    magnetic_disturbance: [0, 0, 0]
//
// A keyframe holds from its t until the next keyframe: body rates (deg/s)
// are piecewise constant, so the ground truth is exact. acceleration is
// non-gravitational acceleration in the earth frame (g); magnetic fields are
// in the earth frame in the same convention.
//
// Keep this struct stable: scripts are test fixtures.
//
//nolint:revive // exported for YAML
type ScenarioScript struct {
	Version        int           `yaml:"version"`
	Duration       time.Duration `yaml:"duration"`
	SampleRate     int           `yaml:"sample_rate"`
	Convention     string        `yaml:"convention"`
	Initial        Attitude      `yaml:"initial"`
	MagneticField  []float64     `yaml:"magnetic_field"`
	GyroscopeBias  []float64     `yaml:"gyroscope_bias"`
	GyroscopeRange float64       `yaml:"gyroscope_range"`
	Noise          Noise         `yaml:"noise"`
	Keyframes      []Keyframe    `yaml:"keyframes"`
}

// Attitude is an orientation in degrees.
type Attitude struct {
	Roll  float64 `yaml:"roll"`
	Pitch float64 `yaml:"pitch"`
	Yaw   float64 `yaml:"yaw"`
}

// Noise is the standard deviation of white noise added to each axis.
type Noise struct {
	Gyroscope     float64 `yaml:"gyroscope"`
	Accelerometer float64 `yaml:"accelerometer"`
	Magnetometer  float64 `yaml:"magnetometer"`
	Seed          int64   `yaml:"seed"`
}

// Keyframe is a time-stamped motion segment.
//
//nolint:revive
type Keyframe struct {
	T                   time.Duration `yaml:"t"`
	Rate                []float64     `yaml:"rate"`
	Acceleration        []float64     `yaml:"acceleration"`
	MagneticDisturbance []float64     `yaml:"magnetic_disturbance"`
}

// Frame is one generated sample with the attitude it was taken at.
type Frame struct {
	At     time.Duration
	Sample imulog.Sample
	Truth  fusion.Quaternion
}

// Scenario is the validated, runtime representation.
//
//nolint:revive
type Scenario struct {
	script     ScenarioScript
	convention fusion.Convention
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if script.SampleRate == 0 {
		script.SampleRate = 100
	}
	if script.SampleRate < 0 {
		return nil, fmt.Errorf("sample_rate must be > 0")
	}
	if script.Convention == "" {
		script.Convention = fusion.ConventionNWU.String()
	}
	conv, err := fusion.ParseConvention(script.Convention)
	if err != nil {
		return nil, err
	}
	if script.GyroscopeRange < 0 {
		return nil, fmt.Errorf("gyroscope_range must be >= 0")
	}
	if err := checkVector("magnetic_field", script.MagneticField); err != nil {
		return nil, err
	}
	if err := checkVector("gyroscope_bias", script.GyroscopeBias); err != nil {
		return nil, err
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	if err := validateKeyframes(script.Keyframes); err != nil {
		return nil, err
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxKeyframeTime(script)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}

	return &Scenario{script: script, convention: conv, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) SampleRate() int { return s.script.SampleRate }

func (s *Scenario) Convention() fusion.Convention { return s.convention }

// Generate produces every sample of the scenario. The gyroscope reading of
// sample k is the rate held over the interval ending at sample k, which is
// what the fusion integrates.
func (s *Scenario) Generate() []Frame {
	if s == nil {
		return nil
	}
	period := time.Second / time.Duration(s.script.SampleRate)
	dt := period.Seconds()
	n := int(s.duration/period) + 1

	rng := rand.New(rand.NewSource(s.script.Noise.Seed))
	noise := func(sigma float64) fusion.Vector {
		if sigma <= 0 {
			return fusion.VectorZero
		}
		return fusion.Vector{
			X: float32(rng.NormFloat64() * sigma),
			Y: float32(rng.NormFloat64() * sigma),
			Z: float32(rng.NormFloat64() * sigma),
		}
	}

	up := [3]float64{0, 0, 1}
	if s.convention == fusion.ConventionNED {
		up = [3]float64{0, 0, -1}
	}
	field := vec3(s.script.MagneticField)
	bias := vec3(s.script.GyroscopeBias)

	q := attitudeQuaternion(s.script.Initial)
	var rate [3]float64

	frames := make([]Frame, 0, n)
	for k := 0; k < n; k++ {
		at := time.Duration(k) * period
		if k > 0 {
			kf := s.keyframeAt(at - period)
			rate = vec3(kf.Rate)
			q = integrate(q, rate, dt)
		} else {
			rate = vec3(s.keyframeAt(0).Rate)
		}
		kf := s.keyframeAt(at)

		acc := add3(up, vec3(kf.Acceleration))
		mag := add3(field, vec3(kf.MagneticDisturbance))

		gyro := toVector(add3(rate, bias)).Add(noise(s.script.Noise.Gyroscope))
		if r := float32(s.script.GyroscopeRange); r > 0 {
			gyro = fusion.Vector{X: clamp(gyro.X, r), Y: clamp(gyro.Y, r), Z: clamp(gyro.Z, r)}
		}

		sample := imulog.Sample{
			Gyroscope:     gyro,
			Accelerometer: toVector(toBody(q, acc)).Add(noise(s.script.Noise.Accelerometer)),
		}
		if len(s.script.MagneticField) == 3 {
			sample.Magnetometer = toVector(toBody(q, mag)).Add(noise(s.script.Noise.Magnetometer))
			sample.HasMag = true
		}

		frames = append(frames, Frame{
			At:     at,
			Sample: sample,
			Truth: fusion.Quaternion{
				W: float32(q.Real),
				X: float32(q.Imag),
				Y: float32(q.Jmag),
				Z: float32(q.Kmag),
			},
		})
	}
	return frames
}

// Records wraps frames as an imulog stream starting with a START marker.
func Records(frames []Frame) []imulog.Record {
	out := make([]imulog.Record, 0, len(frames)+1)
	out = append(out, imulog.Record{Start: true})
	for _, f := range frames {
		out = append(out, imulog.Record{At: f.At, Sample: f.Sample})
	}
	return out
}

func (s *Scenario) keyframeAt(t time.Duration) Keyframe {
	kfs := s.script.Keyframes
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0]
	}
	return kfs[idx-1]
}

// integrate advances the body-to-earth quaternion q by body rate (deg/s)
// held for dt seconds.
func integrate(q quat.Number, rateDeg [3]float64, dt float64) quat.Number {
	half := 0.5 * dt * math.Pi / 180
	step := quat.Exp(quat.Number{Imag: rateDeg[0] * half, Jmag: rateDeg[1] * half, Kmag: rateDeg[2] * half})
	q = quat.Mul(q, step)
	return quat.Scale(1/quat.Abs(q), q)
}

// toBody expresses an earth-frame vector in the body frame.
func toBody(q quat.Number, v [3]float64) [3]float64 {
	r := quat.Mul(quat.Mul(quat.Conj(q), quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}), q)
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

func attitudeQuaternion(a Attitude) quat.Number {
	e := fusion.Euler{Roll: float32(a.Roll), Pitch: float32(a.Pitch), Yaw: float32(a.Yaw)}.Quaternion()
	q := quat.Number{Real: float64(e.W), Imag: float64(e.X), Jmag: float64(e.Y), Kmag: float64(e.Z)}
	return quat.Scale(1/quat.Abs(q), q)
}

func checkVector(key string, v []float64) error {
	if len(v) != 0 && len(v) != 3 {
		return fmt.Errorf("%s must have 3 values", key)
	}
	return nil
}

func validateKeyframes(kfs []Keyframe) error {
	for i := range kfs {
		if kfs[i].T < 0 {
			return fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if err := checkVector(fmt.Sprintf("keyframes[%d].rate", i), kfs[i].Rate); err != nil {
			return err
		}
		if err := checkVector(fmt.Sprintf("keyframes[%d].acceleration", i), kfs[i].Acceleration); err != nil {
			return err
		}
		if err := checkVector(fmt.Sprintf("keyframes[%d].magnetic_disturbance", i), kfs[i].MagneticDisturbance); err != nil {
			return err
		}
	}
	return nil
}

func maxKeyframeTime(s ScenarioScript) time.Duration {
	max := time.Duration(0)
	for _, kf := range s.Keyframes {
		if kf.T > max {
			max = kf.T
		}
	}
	return max
}

func vec3(v []float64) [3]float64 {
	if len(v) != 3 {
		return [3]float64{}
	}
	return [3]float64{v[0], v[1], v[2]}
}

func add3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func toVector(v [3]float64) fusion.Vector {
	return fusion.Vector{X: float32(v[0]), Y: float32(v[1]), Z: float32(v[2])}
}

func clamp(v, limit float32) float32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
