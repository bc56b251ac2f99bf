// Package fusion estimates orientation from gyroscope, accelerometer and
// magnetometer samples.
//
// Per sample: raw readings -> Calibration -> gyroscope Offset -> AHRS.
// Every type here is a fixed-size value with no goroutines, locks, logging
// or per-sample allocation, so an update costs the same every time and can
// run from a tight control loop. None of it is safe for concurrent use;
// give each sensor stream its own Fusion or serialise access.
//
// Inputs are not validated. NaN or infinite samples propagate into the
// estimate.
package fusion

// MaxDeltaTime is the largest gap between samples, in seconds, that is
// integrated. Longer gaps mean the stream stalled and are treated as 0.
const MaxDeltaTime = 1.0

// Options configure a Fusion instance.
type Options struct {
	Settings Settings
	// SampleRate is the nominal sample rate in Hz; it sizes the gyroscope
	// offset filter.
	SampleRate  uint
	Calibration Calibration
}

func DefaultOptions() Options {
	return Options{
		Settings:    DefaultSettings(),
		SampleRate:  100,
		Calibration: DefaultCalibration(),
	}
}

// Fusion composes calibration, gyroscope offset correction and the AHRS and
// tracks time between calls.
type Fusion struct {
	calibration Calibration
	ahrs        AHRS
	offset      Offset

	sampleRate    uint
	lastTimestamp float64
	haveTimestamp bool
	deltaTime     float32
}

func New(opts Options) *Fusion {
	f := &Fusion{}
	f.Reinitialize(opts)
	return f
}

// Reinitialize discards all adaptive state and applies opts.
func (f *Fusion) Reinitialize(opts Options) {
	f.calibration = opts.Calibration
	f.ahrs = NewAHRS(opts.Settings)
	f.offset = NewOffset(opts.SampleRate)
	f.sampleRate = opts.SampleRate
	f.lastTimestamp = 0
	f.haveTimestamp = false
	f.deltaTime = 0
}

// Update fuses one set of uncalibrated readings taken at timestamp
// (seconds, monotonic). Pass VectorZero for magnetometer when there is none.
func (f *Fusion) Update(gyroscope, accelerometer, magnetometer Vector, timestamp float64) {
	gyroscope = f.calibration.Gyroscope(gyroscope)
	accelerometer = f.calibration.Accelerometer(accelerometer)
	if !magnetometer.IsZero() {
		magnetometer = f.calibration.Magnetometer(magnetometer)
	}

	gyroscope = f.offset.Update(gyroscope)

	f.deltaTime = f.advance(timestamp)
	f.ahrs.Update(gyroscope, accelerometer, magnetometer, f.deltaTime)
}

func (f *Fusion) UpdateNoMagnetometer(gyroscope, accelerometer Vector, timestamp float64) {
	f.Update(gyroscope, accelerometer, VectorZero, timestamp)
}

// advance returns the time since the previous sample and records timestamp.
// The first sample, a timestamp going backwards, or a stall longer than
// MaxDeltaTime all yield 0 so nothing is integrated.
func (f *Fusion) advance(timestamp float64) float32 {
	var dt float64
	if f.haveTimestamp {
		dt = timestamp - f.lastTimestamp
	}
	if dt < 0 || dt > MaxDeltaTime {
		dt = 0
	}
	f.lastTimestamp = timestamp
	f.haveTimestamp = true
	return float32(dt)
}

// SetHeading aligns yaw with an external heading in degrees.
func (f *Fusion) SetHeading(heading float32) { f.ahrs.SetHeading(heading) }

func (f *Fusion) Quaternion() Quaternion { return f.ahrs.Quaternion() }

func (f *Fusion) Euler() Euler { return f.ahrs.Euler() }

// LinearAcceleration is gravity-free acceleration in the earth frame, in g.
func (f *Fusion) LinearAcceleration() Vector { return f.ahrs.LinearAcceleration() }

// EarthAcceleration is an alias of LinearAcceleration.
func (f *Fusion) EarthAcceleration() Vector { return f.ahrs.LinearAcceleration() }

// BodyLinearAcceleration is gravity-free acceleration in the sensor frame.
func (f *Fusion) BodyLinearAcceleration() Vector { return f.ahrs.BodyLinearAcceleration() }

func (f *Fusion) Flags() Flags { return f.ahrs.Flags() }

func (f *Fusion) InternalStates() InternalStates { return f.ahrs.InternalStates() }

// GyroscopeOffset is the bias currently removed from the gyroscope, deg/s.
func (f *Fusion) GyroscopeOffset() Vector { return f.offset.Value() }

// DeltaTime is the step used by the most recent update, in seconds.
func (f *Fusion) DeltaTime() float32 { return f.deltaTime }

func (f *Fusion) SampleRate() uint { return f.sampleRate }

// AHRS exposes the underlying filter for diagnostics.
func (f *Fusion) AHRS() *AHRS { return &f.ahrs }
