package fusion

// Quaternion is a rotation from the sensor (body) frame to the earth frame
// of the configured Convention. Element order is w, x, y, z.
type Quaternion struct {
	W, X, Y, Z float32
}

var QuaternionIdentity = Quaternion{W: 1}

func (q Quaternion) Add(o Quaternion) Quaternion {
	return Quaternion{W: q.W + o.W, X: q.X + o.X, Y: q.Y + o.Y, Z: q.Z + o.Z}
}

// Mul is the Hamilton product q ⊗ o.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// MulVector is q ⊗ (0, v).
func (q Quaternion) MulVector(v Vector) Quaternion {
	return Quaternion{
		W: -q.X*v.X - q.Y*v.Y - q.Z*v.Z,
		X: q.W*v.X + q.Y*v.Z - q.Z*v.Y,
		Y: q.W*v.Y - q.X*v.Z + q.Z*v.X,
		Z: q.W*v.Z + q.X*v.Y - q.Y*v.X,
	}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

func (q Quaternion) NormSquared() float32 {
	return q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
}

func (q Quaternion) Norm() float32 {
	return sqrt(q.NormSquared())
}

func (q Quaternion) Normalize() Quaternion {
	n := invSqrt(q.NormSquared())
	return Quaternion{W: q.W * n, X: q.X * n, Y: q.Y * n, Z: q.Z * n}
}

// Matrix returns the rotation matrix equivalent of a unit quaternion.
func (q Quaternion) Matrix() Matrix {
	ww := q.W * q.W
	wx := q.W * q.X
	wy := q.W * q.Y
	wz := q.W * q.Z
	xx := q.X * q.X
	xy := q.X * q.Y
	xz := q.X * q.Z
	yy := q.Y * q.Y
	yz := q.Y * q.Z
	zz := q.Z * q.Z
	return Matrix{
		XX: 2 * (ww - 0.5 + xx), XY: 2 * (xy - wz), XZ: 2 * (xz + wy),
		YX: 2 * (xy + wz), YY: 2 * (ww - 0.5 + yy), YZ: 2 * (yz - wx),
		ZX: 2 * (xz - wy), ZY: 2 * (yz + wx), ZZ: 2 * (ww - 0.5 + zz),
	}
}

// Rotate takes a body-frame vector into the earth frame.
func (q Quaternion) Rotate(v Vector) Vector {
	return q.Matrix().MulVector(v)
}

// Euler converts to ZYX Tait-Bryan angles in degrees. Pitch saturates at
// ±90° rather than going NaN near gimbal lock.
func (q Quaternion) Euler() Euler {
	halfMinusYY := 0.5 - q.Y*q.Y
	return Euler{
		Roll:  RadiansToDegrees(atan2(q.W*q.X+q.Y*q.Z, halfMinusYY-q.X*q.X)),
		Pitch: RadiansToDegrees(asinSafe(2 * (q.W*q.Y - q.Z*q.X))),
		Yaw:   RadiansToDegrees(atan2(q.W*q.Z+q.X*q.Y, halfMinusYY-q.Z*q.Z)),
	}
}
