package fusion

// Euler is roll/pitch/yaw in degrees. It is derived from the quaternion on
// demand and never fed back into the filter.
type Euler struct {
	Roll, Pitch, Yaw float32
}

// Quaternion converts ZYX Euler angles (degrees) back to a unit quaternion.
func (e Euler) Quaternion() Quaternion {
	hr := DegreesToRadians(e.Roll) * 0.5
	hp := DegreesToRadians(e.Pitch) * 0.5
	hy := DegreesToRadians(e.Yaw) * 0.5
	cr, sr := cos(hr), sin(hr)
	cp, sp := cos(hp), sin(hp)
	cy, sy := cos(hy), sin(hy)
	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}
