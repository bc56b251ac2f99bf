package fusion

// Matrix is a row-major 3x3 matrix used for misalignment and soft-iron
// correction.
type Matrix struct {
	XX, XY, XZ float32
	YX, YY, YZ float32
	ZX, ZY, ZZ float32
}

// MatrixIdentity leaves vectors unchanged.
var MatrixIdentity = Matrix{
	XX: 1,
	YY: 1,
	ZZ: 1,
}

// MatrixFromRows builds a matrix from nine row-major coefficients.
func MatrixFromRows(c [9]float32) Matrix {
	return Matrix{
		XX: c[0], XY: c[1], XZ: c[2],
		YX: c[3], YY: c[4], YZ: c[5],
		ZX: c[6], ZY: c[7], ZZ: c[8],
	}
}

func (m Matrix) MulVector(v Vector) Vector {
	return Vector{
		X: m.XX*v.X + m.XY*v.Y + m.XZ*v.Z,
		Y: m.YX*v.X + m.YY*v.Y + m.YZ*v.Z,
		Z: m.ZX*v.X + m.ZY*v.Y + m.ZZ*v.Z,
	}
}

func (m Matrix) Mul(o Matrix) Matrix {
	return Matrix{
		XX: m.XX*o.XX + m.XY*o.YX + m.XZ*o.ZX,
		XY: m.XX*o.XY + m.XY*o.YY + m.XZ*o.ZY,
		XZ: m.XX*o.XZ + m.XY*o.YZ + m.XZ*o.ZZ,
		YX: m.YX*o.XX + m.YY*o.YX + m.YZ*o.ZX,
		YY: m.YX*o.XY + m.YY*o.YY + m.YZ*o.ZY,
		YZ: m.YX*o.XZ + m.YY*o.YZ + m.YZ*o.ZZ,
		ZX: m.ZX*o.XX + m.ZY*o.YX + m.ZZ*o.ZX,
		ZY: m.ZX*o.XY + m.ZY*o.YY + m.ZZ*o.ZY,
		ZZ: m.ZX*o.XZ + m.ZY*o.YZ + m.ZZ*o.ZZ,
	}
}

func (m Matrix) Transpose() Matrix {
	return Matrix{
		XX: m.XX, XY: m.YX, XZ: m.ZX,
		YX: m.XY, YY: m.YY, YZ: m.ZY,
		ZX: m.XZ, ZY: m.YZ, ZZ: m.ZZ,
	}
}
