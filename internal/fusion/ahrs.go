package fusion

const (
	// initialGain is the feedback gain right after (re)initialisation.
	initialGain = 10.0
	// initialisationPeriod is how long, in seconds, the gain takes to ramp
	// from initialGain down to Settings.Gain.
	initialisationPeriod = 3.0
)

// Settings are the tunable thresholds of the AHRS. Applying settings resets
// the filter.
type Settings struct {
	Convention Convention
	// Gain weights accelerometer/magnetometer feedback against gyroscope
	// integration. 0 means gyroscope only.
	Gain float32
	// GyroscopeRange is the sensor full scale in deg/s. A sample at or
	// beyond it triggers angular rate recovery. 0 disables the check.
	GyroscopeRange float32
	// AccelerationRejection and MagneticRejection are error angles in
	// degrees beyond which a sample is ignored. 0 disables rejection.
	AccelerationRejection float32
	MagneticRejection     float32
	// RecoveryTriggerPeriod is the number of rejected samples after which
	// feedback is forced back on. 0 disables rejection.
	RecoveryTriggerPeriod int
}

func DefaultSettings() Settings {
	return Settings{
		Convention:            ConventionNWU,
		Gain:                  0.5,
		AccelerationRejection: 90,
		MagneticRejection:     90,
	}
}

// Flags summarise the adaptive state for diagnostics.
type Flags struct {
	Initialising         bool
	AngularRateRecovery  bool
	AccelerationRecovery bool
	MagneticRecovery     bool
}

// InternalStates expose the feedback errors and rejection counters.
// Errors are in degrees; triggers are normalised to [0, 1].
type InternalStates struct {
	AccelerationError           float32
	AccelerometerIgnored        bool
	AccelerationRecoveryTrigger float32
	MagneticError               float32
	MagnetometerIgnored         bool
	MagneticRecoveryTrigger     float32
}

// AHRS fuses gyroscope, accelerometer and magnetometer samples into a unit
// quaternion. It allocates nothing and is not safe for concurrent use.
type AHRS struct {
	settings Settings

	quaternion         Quaternion
	accelerometer      Vector
	linearAcceleration Vector

	initialising   bool
	rampedGain     float32
	rampedGainStep float32

	angularRateRecovery bool

	halfAccelerometerFeedback Vector
	halfMagnetometerFeedback  Vector
	accelerometerIgnored      bool
	magnetometerIgnored       bool

	acceleration rejector
	magnetic     rejector
}

func NewAHRS(settings Settings) AHRS {
	var a AHRS
	a.SetSettings(settings)
	return a
}

// SetSettings applies settings and resets all adaptive state.
func (a *AHRS) SetSettings(settings Settings) {
	if settings.Gain < 0 {
		settings.Gain = 0
	}
	if settings.GyroscopeRange < 0 {
		settings.GyroscopeRange = 0
	}
	a.settings = settings

	rejection := settings.Gain != 0
	a.acceleration = newRejector(settings.AccelerationRejection, settings.RecoveryTriggerPeriod, rejection)
	a.magnetic = newRejector(settings.MagneticRejection, settings.RecoveryTriggerPeriod, rejection)
	a.rampedGainStep = (a.startGain() - settings.Gain) / initialisationPeriod
	a.Reset()
}

func (a *AHRS) Settings() Settings { return a.settings }

// Reset returns to the identity orientation and restarts the gain ramp.
func (a *AHRS) Reset() {
	a.quaternion = QuaternionIdentity
	a.accelerometer = VectorZero
	a.linearAcceleration = VectorZero
	a.angularRateRecovery = false
	a.halfAccelerometerFeedback = VectorZero
	a.halfMagnetometerFeedback = VectorZero
	a.accelerometerIgnored = false
	a.magnetometerIgnored = false
	a.restartInitialisation()
}

func (a *AHRS) restartInitialisation() {
	a.initialising = true
	a.rampedGain = a.startGain()
	a.acceleration.reset()
	a.magnetic.reset()
}

func (a *AHRS) startGain() float32 {
	if a.settings.Gain > initialGain {
		return a.settings.Gain
	}
	return initialGain
}

// Update advances the filter by deltaTime seconds. gyroscope is in deg/s,
// accelerometer in g. A zero accelerometer or magnetometer vector means the
// reading is unavailable and contributes no feedback.
func (a *AHRS) Update(gyroscope, accelerometer, magnetometer Vector, deltaTime float32) {
	a.accelerometer = accelerometer

	// A saturated gyroscope cannot be integrated; restart the gain ramp so
	// the references pull the estimate back.
	if a.settings.GyroscopeRange != 0 && gyroscope.AnyAbsAtLeast(a.settings.GyroscopeRange) {
		a.restartInitialisation()
		a.angularRateRecovery = true
	} else {
		a.angularRateRecovery = false
	}

	if a.initialising {
		a.rampedGain -= a.rampedGainStep * deltaTime
		if a.rampedGain <= a.settings.Gain || a.settings.Gain == 0 {
			a.rampedGain = a.settings.Gain
			a.initialising = false
		}
	}

	halfGravity := a.halfGravity()

	var halfAccelerometerFeedback Vector
	a.accelerometerIgnored = true
	if !accelerometer.IsZero() {
		a.halfAccelerometerFeedback = feedback(accelerometer.Normalize(), halfGravity)
		if a.acceleration.admit(a.halfAccelerometerFeedback.MagnitudeSquared(), a.initialising) {
			a.accelerometerIgnored = false
			halfAccelerometerFeedback = a.halfAccelerometerFeedback
		}
	}

	var halfMagnetometerFeedback Vector
	a.magnetometerIgnored = true
	if west := halfGravity.Cross(magnetometer); !west.IsZero() {
		a.halfMagnetometerFeedback = feedback(west.Normalize(), a.halfMagnetic())
		if a.magnetic.admit(a.halfMagnetometerFeedback.MagnitudeSquared(), a.initialising) {
			a.magnetometerIgnored = false
			halfMagnetometerFeedback = a.halfMagnetometerFeedback
		}
	}

	halfGyroscope := gyroscope.Scale(DegreesToRadians(0.5))
	adjusted := halfGyroscope.Add(halfAccelerometerFeedback.Add(halfMagnetometerFeedback).Scale(a.rampedGain))

	a.quaternion = a.quaternion.Add(a.quaternion.MulVector(adjusted.Scale(deltaTime))).Normalize()

	a.linearAcceleration = a.quaternion.Rotate(accelerometer).Sub(a.settings.Convention.up())
}

// UpdateNoMagnetometer leaves heading unconstrained; yaw drifts with the
// gyroscope.
func (a *AHRS) UpdateNoMagnetometer(gyroscope, accelerometer Vector, deltaTime float32) {
	a.Update(gyroscope, accelerometer, VectorZero, deltaTime)
}

// UpdateExternalHeading uses a heading in degrees (e.g. from GPS track)
// in place of a magnetometer.
func (a *AHRS) UpdateExternalHeading(gyroscope, accelerometer Vector, heading, deltaTime float32) {
	q := a.quaternion
	roll := atan2(q.W*q.X+q.Y*q.Z, 0.5-q.Y*q.Y-q.X*q.X)

	h := DegreesToRadians(heading)
	sinHeading := sin(h)
	magnetometer := Vector{
		X: cos(h),
		Y: -cos(roll) * sinHeading,
		Z: sinHeading * sin(roll),
	}
	a.Update(gyroscope, accelerometer, magnetometer, deltaTime)
}

// halfGravity is the direction of gravity's reaction (up) in the body
// frame, scaled by 0.5.
func (a *AHRS) halfGravity() Vector {
	q := a.quaternion
	switch a.settings.Convention {
	case ConventionNED:
		return Vector{
			X: q.W*q.Y - q.X*q.Z,
			Y: -(q.Y*q.Z + q.W*q.X),
			Z: 0.5 - q.W*q.W - q.Z*q.Z,
		}
	default:
		return Vector{
			X: q.X*q.Z - q.W*q.Y,
			Y: q.Y*q.Z + q.W*q.X,
			Z: q.W*q.W - 0.5 + q.Z*q.Z,
		}
	}
}

// halfMagnetic is the body-frame west direction implied by the quaternion,
// scaled by 0.5.
func (a *AHRS) halfMagnetic() Vector {
	q := a.quaternion
	switch a.settings.Convention {
	case ConventionENU:
		return Vector{
			X: 0.5 - q.W*q.W - q.X*q.X,
			Y: q.W*q.Z - q.X*q.Y,
			Z: -(q.X*q.Z + q.W*q.Y),
		}
	case ConventionNED:
		return Vector{
			X: -(q.X*q.Y + q.W*q.Z),
			Y: 0.5 - q.W*q.W - q.Y*q.Y,
			Z: q.W*q.X - q.Y*q.Z,
		}
	default:
		return Vector{
			X: q.X*q.Y + q.W*q.Z,
			Y: q.W*q.W - 0.5 + q.Y*q.Y,
			Z: q.Y*q.Z - q.W*q.X,
		}
	}
}

// feedback is half the rotation taking sensor onto reference. Beyond 90° of
// error the cross product shrinks again, so it is normalised to keep the
// correction at full strength.
func feedback(sensor, reference Vector) Vector {
	c := sensor.Cross(reference)
	if sensor.Dot(reference) < 0 {
		return c.normalizeOrZero()
	}
	return c
}

// SetHeading rotates the estimate about the vertical so that yaw equals
// heading (degrees).
func (a *AHRS) SetHeading(heading float32) {
	q := a.quaternion
	yaw := atan2(q.W*q.Z+q.X*q.Y, 0.5-q.Y*q.Y-q.Z*q.Z)
	half := 0.5 * (yaw - DegreesToRadians(heading))
	rotation := Quaternion{W: cos(half), Z: -sin(half)}
	a.quaternion = rotation.Mul(q).Normalize()
}

// SetQuaternion overrides the estimate, e.g. to restore a known attitude.
func (a *AHRS) SetQuaternion(q Quaternion) {
	a.quaternion = q.Normalize()
}

func (a *AHRS) Quaternion() Quaternion { return a.quaternion }

func (a *AHRS) Euler() Euler { return a.quaternion.Euler() }

// LinearAcceleration is the last accelerometer sample rotated into the
// earth frame with gravity removed, in g.
func (a *AHRS) LinearAcceleration() Vector { return a.linearAcceleration }

// BodyLinearAcceleration is the last accelerometer sample with gravity
// removed, in the sensor frame.
func (a *AHRS) BodyLinearAcceleration() Vector {
	return a.accelerometer.Sub(a.halfGravity().Scale(2))
}

// ActiveGain is the feedback gain the next update starts from.
func (a *AHRS) ActiveGain() float32 { return a.rampedGain }

func (a *AHRS) Flags() Flags {
	return Flags{
		Initialising:         a.initialising,
		AngularRateRecovery:  a.angularRateRecovery,
		AccelerationRecovery: a.acceleration.recovering(),
		MagneticRecovery:     a.magnetic.recovering(),
	}
}

func (a *AHRS) InternalStates() InternalStates {
	return InternalStates{
		AccelerationError:           RadiansToDegrees(asinSafe(2 * a.halfAccelerometerFeedback.Magnitude())),
		AccelerometerIgnored:        a.accelerometerIgnored,
		AccelerationRecoveryTrigger: a.acceleration.fraction(),
		MagneticError:               RadiansToDegrees(asinSafe(2 * a.halfMagnetometerFeedback.Magnitude())),
		MagnetometerIgnored:         a.magnetometerIgnored,
		MagneticRecoveryTrigger:     a.magnetic.fraction(),
	}
}
