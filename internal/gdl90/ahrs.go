package gdl90

import (
	"math"

	"imufusion/internal/fusion"
)

// Attitude is what the AHRS messages carry, in aviation terms: positive
// roll is right wing down, positive pitch is nose up and heading is
// clockwise from north in [0, 360).
type Attitude struct {
	Valid bool

	RollDeg  float64
	PitchDeg float64

	// HeadingDeg is only sent when HeadingValid; without a magnetometer the
	// yaw is relative to the start-up orientation.
	HeadingDeg   float64
	HeadingValid bool
}

// AttitudeFromEuler maps fusion Euler angles to aviation angles. NED already
// matches. NWU and ENU have an up z axis, so pitch and yaw turn the other
// way; ENU also measures yaw from east.
func AttitudeFromEuler(e fusion.Euler, conv fusion.Convention, valid, headingValid bool) Attitude {
	roll := float64(e.Roll)
	pitch := float64(e.Pitch)
	yaw := float64(e.Yaw)

	var heading float64
	switch conv {
	case fusion.ConventionNED:
		heading = yaw
	case fusion.ConventionENU:
		pitch = -pitch
		heading = 90 - yaw
	default:
		pitch = -pitch
		heading = -yaw
	}
	return Attitude{
		Valid:        valid,
		RollDeg:      roll,
		PitchDeg:     pitch,
		HeadingDeg:   wrap360(heading),
		HeadingValid: valid && headingValid,
	}
}

func wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// Rounding to 0.1 deg may still produce 360.0.
	if deg >= 359.95 {
		deg = 0
	}
	return deg
}

// ForeFlightAHRSFrame builds the ForeFlight AHRS message (0x65, sub-id 0x01).
// Airspeeds are always sent as unknown.
func ForeFlightAHRSFrame(a Attitude) []byte {
	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := uint16(0xFFFF)
	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
	}
	if a.HeadingValid {
		// Bit 15 marks a magnetic heading.
		hdg = uint16(deg10(a.HeadingDeg)) | 0x8000
	}

	msg := make([]byte, 0, 12)
	msg = append(msg, 0x65, 0x01)
	msg = appendU16(msg, uint16(roll))
	msg = appendU16(msg, uint16(pitch))
	msg = appendU16(msg, hdg)
	msg = appendU16(msg, 0xFFFF) // IAS
	msg = appendU16(msg, 0xFFFF) // TAS
	return Frame(msg)
}

// AHRSReportFrame builds the Stratux "LE" AHRS report (0x4C 0x45 0x01 0x01).
// Fields the AHRS cannot measure (slip, yaw rate, g-load, airspeed,
// altitude, vertical speed) carry their invalid sentinels.
func AHRSReportFrame(a Attitude) []byte {
	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := int16(0x7FFF)
	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
	}
	if a.HeadingValid {
		hdg = deg10(a.HeadingDeg)
	}

	msg := make([]byte, 0, 24)
	msg = append(msg, 0x4C, 0x45, 0x01, 0x01)
	msg = appendU16(msg, uint16(roll))
	msg = appendU16(msg, uint16(pitch))
	msg = appendU16(msg, uint16(hdg))
	msg = appendU16(msg, 0x7FFF) // slip/skid
	msg = appendU16(msg, 0x7FFF) // yaw rate
	msg = appendU16(msg, 0x7FFF) // g-load
	msg = appendU16(msg, 0x7FFF) // IAS
	msg = appendU16(msg, 0xFFFF) // pressure altitude
	msg = appendU16(msg, 0x7FFF) // vertical speed
	msg = append(msg, 0x7F, 0xFF) // reserved
	return Frame(msg)
}

// HeartbeatFrame builds the Stratux heartbeat (0xCC). GPS is never reported
// valid.
func HeartbeatFrame(ahrsValid bool) []byte {
	const protocolVersion = 1
	status := byte(protocolVersion << 2)
	if ahrsValid {
		status |= 0x01
	}
	return Frame([]byte{0xCC, status})
}

// AttitudeFrames returns the messages sent for one attitude update.
func AttitudeFrames(a Attitude) [][]byte {
	return [][]byte{
		HeartbeatFrame(a.Valid),
		ForeFlightAHRSFrame(a),
		AHRSReportFrame(a),
	}
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

// deg10 converts to 0.1 unit steps, rounded and saturated to int16.
func deg10(deg float64) int16 {
	v := math.Round(deg * 10)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
