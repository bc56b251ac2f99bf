package fusion

// Vector is a 3-axis quantity: angular rate, acceleration, magnetic field,
// offset or feedback.
type Vector struct {
	X, Y, Z float32
}

// VectorZero is the zero vector. A zero accelerometer or magnetometer
// sample means "no reading" to the AHRS.
var VectorZero = Vector{}

// VectorOnes has every axis set to 1; the neutral sensitivity.
var VectorOnes = Vector{X: 1, Y: 1, Z: 1}

func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector) Scale(s float32) Vector {
	return Vector{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Hadamard is the element-wise product.
func (v Vector) Hadamard(o Vector) Vector {
	return Vector{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

func (v Vector) Sum() float32 {
	return v.X + v.Y + v.Z
}

func (v Vector) Dot(o Vector) float32 {
	return v.Hadamard(o).Sum()
}

func (v Vector) Cross(o Vector) Vector {
	return Vector{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vector) MagnitudeSquared() float32 {
	return v.Dot(v)
}

func (v Vector) Magnitude() float32 {
	return sqrt(v.MagnitudeSquared())
}

// Normalize returns the unit vector in the direction of v. The zero vector
// has no direction; callers must check IsZero first.
func (v Vector) Normalize() Vector {
	return v.Scale(invSqrt(v.MagnitudeSquared()))
}

// normalizeOrZero is Normalize with the zero vector mapped to itself.
func (v Vector) normalizeOrZero() Vector {
	if v.IsZero() {
		return VectorZero
	}
	return v.Normalize()
}

// AnyAbsAbove reports whether any axis magnitude is strictly greater than limit.
func (v Vector) AnyAbsAbove(limit float32) bool {
	return abs(v.X) > limit || abs(v.Y) > limit || abs(v.Z) > limit
}

// AnyAbsAtLeast reports whether any axis magnitude meets or exceeds limit.
func (v Vector) AnyAbsAtLeast(limit float32) bool {
	return abs(v.X) >= limit || abs(v.Y) >= limit || abs(v.Z) >= limit
}
