package fusion

import "math"

const (
	offsetTimeoutSeconds = 5
	offsetCutoffHz       = 0.02
	// offsetThreshold is the per-axis rate, in deg/s, above which the body
	// counts as moving.
	offsetThreshold = 3
)

// Offset tracks slow gyroscope bias. The bias estimate only moves after the
// corrected rate has stayed under offsetThreshold on every axis for
// offsetTimeoutSeconds, and then only through a 0.02 Hz low-pass.
type Offset struct {
	filterCoefficient float32
	timeout           uint32
	timer             uint32
	offset            Vector
}

// NewOffset sizes the stillness timeout and filter for sampleRate (Hz).
// A zero sample rate is treated as 1 Hz.
func NewOffset(sampleRate uint) Offset {
	if sampleRate == 0 {
		sampleRate = 1
	}
	return Offset{
		filterCoefficient: float32(2 * math.Pi * offsetCutoffHz * (1 / float64(sampleRate))),
		timeout:           uint32(offsetTimeoutSeconds * sampleRate),
	}
}

// Update removes the current bias estimate from gyroscope (deg/s) and
// returns the corrected rate.
func (o *Offset) Update(gyroscope Vector) Vector {
	corrected := gyroscope.Sub(o.offset)

	if corrected.AnyAbsAbove(offsetThreshold) {
		o.timer = 0
		return corrected
	}

	if o.timer < o.timeout {
		o.timer++
		return corrected
	}

	o.offset = o.offset.Add(corrected.Scale(o.filterCoefficient))
	return corrected
}

// Value is the current bias estimate in deg/s.
func (o *Offset) Value() Vector { return o.offset }

func (o *Offset) Timer() uint32 { return o.timer }

func (o *Offset) Timeout() uint32 { return o.timeout }
