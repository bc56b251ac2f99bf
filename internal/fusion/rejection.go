package fusion

type rejectionState uint8

const (
	// rejectionAccepting applies feedback within the threshold and counts
	// rejected samples towards recovery.
	rejectionAccepting rejectionState = iota
	// rejectionRecovering applies all feedback until the error falls back
	// under the threshold.
	rejectionRecovering
)

// rejector gates accelerometer or magnetometer feedback. trigger is always
// in [0, timeout].
type rejector struct {
	enabled   bool
	threshold float32 // squared magnitude of the half feedback vector
	timeout   int
	trigger   int
	state     rejectionState
}

func newRejector(angleDegrees float32, period int, enabled bool) rejector {
	if angleDegrees <= 0 || period <= 0 {
		enabled = false
	}
	if period < 0 {
		period = 0
	}
	half := 0.5 * sin(DegreesToRadians(angleDegrees))
	return rejector{
		enabled:   enabled,
		threshold: half * half,
		timeout:   period,
	}
}

// admit reports whether feedback whose half vector has squared magnitude
// errSq is applied this sample, and advances the trigger counter.
func (r *rejector) admit(errSq float32, initialising bool) bool {
	if !r.enabled {
		return true
	}
	within := initialising || errSq <= r.threshold

	if r.state == rejectionRecovering {
		if within {
			r.state = rejectionAccepting
			r.decrement()
		}
		return true
	}

	if within {
		r.decrement()
		return true
	}
	r.trigger++
	if r.trigger >= r.timeout {
		r.trigger = r.timeout
		r.state = rejectionRecovering
	}
	return false
}

func (r *rejector) decrement() {
	if r.trigger > 0 {
		r.trigger--
	}
}

func (r *rejector) reset() {
	r.trigger = 0
	r.state = rejectionAccepting
}

func (r *rejector) recovering() bool {
	return r.state == rejectionRecovering
}

// fraction is trigger/timeout, 0 when rejection is disabled.
func (r *rejector) fraction() float32 {
	if !r.enabled || r.timeout == 0 {
		return 0
	}
	return float32(r.trigger) / float32(r.timeout)
}
