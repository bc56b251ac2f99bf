package fusion

// CompassHeading is the tilt-compensated magnetic heading in degrees for a
// stationary body, computed from one accelerometer (g) and one magnetometer
// sample.
func CompassHeading(convention Convention, accelerometer, magnetometer Vector) float32 {
	switch convention {
	case ConventionENU:
		west := accelerometer.Cross(magnetometer).normalizeOrZero()
		north := west.Cross(accelerometer).normalizeOrZero()
		east := west.Scale(-1)
		return RadiansToDegrees(atan2(north.X, east.X))
	case ConventionNED:
		down := accelerometer.Scale(-1)
		east := down.Cross(magnetometer).normalizeOrZero()
		north := east.Cross(down).normalizeOrZero()
		return RadiansToDegrees(atan2(east.X, north.X))
	default:
		west := accelerometer.Cross(magnetometer).normalizeOrZero()
		north := west.Cross(accelerometer).normalizeOrZero()
		return RadiansToDegrees(atan2(west.X, north.X))
	}
}
