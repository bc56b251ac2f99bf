package ahrs

import (
	"fmt"
	"math"

	"imufusion/internal/fusion"
)

// dominantAxis returns +/-1..+/-3 for the accelerometer component with the
// largest magnitude. Ties prefer X, then Y.
func dominantAxis(v fusion.Vector) int {
	a1 := math.Abs(float64(v.X))
	a2 := math.Abs(float64(v.Y))
	a3 := math.Abs(float64(v.Z))
	if a1 >= a2 && a1 >= a3 {
		if v.X >= 0 {
			return 1
		}
		return -1
	}
	if a2 >= a1 && a2 >= a3 {
		if v.Y >= 0 {
			return 2
		}
		return -2
	}
	if v.Z >= 0 {
		return 3
	}
	return -3
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func unit3(v [3]float64) ([3]float64, error) {
	n := norm3(v)
	if n <= 0 {
		return [3]float64{}, fmt.Errorf("zero vector")
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}, nil
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// mountMatrix builds the sensor-to-body rotation from the sensor axis that
// points at the nose and the accelerometer reading taken level. The body
// frame is forward-left-up, or forward-right-down for NED.
func mountMatrix(forwardAxis int, gravity [3]float64, conv fusion.Convention) (fusion.Matrix, error) {
	up, err := unit3(gravity)
	if err != nil {
		return fusion.Matrix{}, fmt.Errorf("ahrs: invalid gravity vector: %v", err)
	}

	idx := forwardAxis
	sign := 1.0
	if idx < 0 {
		idx = -idx
		sign = -1.0
	}
	if idx < 1 || idx > 3 {
		return fusion.Matrix{}, fmt.Errorf("ahrs: invalid forward axis %d", forwardAxis)
	}
	var x [3]float64
	x[idx-1] = sign

	// Drop any vertical component so forward is horizontal.
	dot := x[0]*up[0] + x[1]*up[1] + x[2]*up[2]
	x, err = unit3([3]float64{x[0] - dot*up[0], x[1] - dot*up[1], x[2] - dot*up[2]})
	if err != nil {
		return fusion.Matrix{}, fmt.Errorf("ahrs: forward axis nearly vertical; try again")
	}

	z := up
	if conv == fusion.ConventionNED {
		z = [3]float64{-up[0], -up[1], -up[2]}
	}
	y, err := unit3(cross3(z, x))
	if err != nil {
		return fusion.Matrix{}, fmt.Errorf("ahrs: invalid basis; try again")
	}

	return fusion.MatrixFromRows([9]float32{
		float32(x[0]), float32(x[1]), float32(x[2]),
		float32(y[0]), float32(y[1]), float32(y[2]),
		float32(z[0]), float32(z[1]), float32(z[2]),
	}), nil
}

// mountCalibration rotates every calibrated output into the body frame.
// Offsets stay in sensor axes because they are removed before the matrices
// apply.
func mountCalibration(cal fusion.Calibration, mount fusion.Matrix) fusion.Calibration {
	cal.GyroscopeMisalignment = mount.Mul(cal.GyroscopeMisalignment)
	cal.AccelerometerMisalignment = mount.Mul(cal.AccelerometerMisalignment)
	cal.SoftIron = mount.Mul(cal.SoftIron)
	return cal
}
