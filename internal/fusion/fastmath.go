package fusion

import "math"

func DegreesToRadians(degrees float32) float32 {
	return degrees * (math.Pi / 180)
}

func RadiansToDegrees(radians float32) float32 {
	return radians * (180 / math.Pi)
}

// asinSafe clamps out-of-domain inputs to ±π/2 instead of returning NaN.
func asinSafe(v float32) float32 {
	if v <= -1 {
		return -math.Pi / 2
	}
	if v >= 1 {
		return math.Pi / 2
	}
	return float32(math.Asin(float64(v)))
}

func atan2(y, x float32) float32 {
	return float32(math.Atan2(float64(y), float64(x)))
}

func sin(v float32) float32 {
	return float32(math.Sin(float64(v)))
}

func cos(v float32) float32 {
	return float32(math.Cos(float64(v)))
}

func sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

func abs(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}

// fastInvSqrt approximates 1/sqrt(x) with the bit-reinterpretation trick and
// one refinement step. Relative error is below 0.1 %; the quaternion is
// renormalised every update so the error never accumulates.
func fastInvSqrt(x float32) float32 {
	i := int32(math.Float32bits(x))
	y := math.Float32frombits(uint32(0x5F1F1412 - (i >> 1)))
	return y * (1.69000231 - 0.714158168*x*y*y)
}
