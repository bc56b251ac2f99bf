package fusion

// CalibrateInertial applies misalignment · (sensitivity ∘ raw − offset) to a
// gyroscope or accelerometer sample.
func CalibrateInertial(raw Vector, misalignment Matrix, sensitivity, offset Vector) Vector {
	return misalignment.MulVector(raw.Hadamard(sensitivity).Sub(offset))
}

// CalibrateMagnetic removes the hard-iron offset, then applies the soft-iron
// matrix.
func CalibrateMagnetic(raw Vector, softIron Matrix, hardIron Vector) Vector {
	return softIron.MulVector(raw.Sub(hardIron))
}

// Calibration holds the static correction coefficients for all three
// sensors. The zero value is not useful; start from DefaultCalibration.
type Calibration struct {
	GyroscopeMisalignment Matrix
	GyroscopeSensitivity  Vector
	GyroscopeOffset       Vector

	AccelerometerMisalignment Matrix
	AccelerometerSensitivity  Vector
	AccelerometerOffset       Vector

	SoftIron Matrix
	HardIron Vector
}

// DefaultCalibration passes samples through unchanged.
func DefaultCalibration() Calibration {
	return Calibration{
		GyroscopeMisalignment:     MatrixIdentity,
		GyroscopeSensitivity:      VectorOnes,
		AccelerometerMisalignment: MatrixIdentity,
		AccelerometerSensitivity:  VectorOnes,
		SoftIron:                  MatrixIdentity,
	}
}

func (c *Calibration) Gyroscope(raw Vector) Vector {
	return CalibrateInertial(raw, c.GyroscopeMisalignment, c.GyroscopeSensitivity, c.GyroscopeOffset)
}

func (c *Calibration) Accelerometer(raw Vector) Vector {
	return CalibrateInertial(raw, c.AccelerometerMisalignment, c.AccelerometerSensitivity, c.AccelerometerOffset)
}

func (c *Calibration) Magnetometer(raw Vector) Vector {
	return CalibrateMagnetic(raw, c.SoftIron, c.HardIron)
}
