package web

import (
	"sync"
	"time"

	"imufusion/internal/ahrs"
)

type AttitudeFlags struct {
	Initialising         bool `json:"initialising"`
	AngularRateRecovery  bool `json:"angular_rate_recovery"`
	AccelerationRecovery bool `json:"acceleration_recovery"`
	MagneticRecovery     bool `json:"magnetic_recovery"`
}

// Attitude is the JSON form of an ahrs.Snapshot shared by the HTTP API,
// the SSE stream and UDP datagrams.
type Attitude struct {
	Valid       bool `json:"valid"`
	IMUDetected bool `json:"imu_detected"`
	MagDetected bool `json:"mag_detected"`

	RollDeg    float32    `json:"roll_deg"`
	PitchDeg   float32    `json:"pitch_deg"`
	YawDeg     float32    `json:"yaw_deg"`
	Quaternion [4]float32 `json:"quaternion"`

	LinearAccelG  [3]float32 `json:"linear_accel_g"`
	EarthAccelG   [3]float32 `json:"earth_accel_g"`
	GyroOffsetDPS [3]float32 `json:"gyro_offset_dps"`

	Flags                AttitudeFlags `json:"flags"`
	AccelErrorDeg        float32       `json:"accel_error_deg"`
	AccelIgnored         bool          `json:"accel_ignored"`
	AccelRecoveryTrigger float32       `json:"accel_recovery_trigger"`
	MagErrorDeg          float32       `json:"mag_error_deg"`
	MagIgnored           bool          `json:"mag_ignored"`
	MagRecoveryTrigger   float32       `json:"mag_recovery_trigger"`

	OrientationSet bool `json:"orientation_set"`
	ForwardAxis    int  `json:"forward_axis,omitempty"`

	Samples       uint64  `json:"samples"`
	SensorTimeS   float64 `json:"sensor_time_s"`
	LastError     string  `json:"last_error,omitempty"`
	LastUpdateUTC string  `json:"last_update_utc,omitempty"`
}

func AttitudeFromSnapshot(s ahrs.Snapshot) Attitude {
	q := s.Quaternion
	a := Attitude{
		Valid:       s.Valid,
		IMUDetected: s.IMUDetected,
		MagDetected: s.MagDetected,

		RollDeg:    s.Euler.Roll,
		PitchDeg:   s.Euler.Pitch,
		YawDeg:     s.Euler.Yaw,
		Quaternion: [4]float32{q.W, q.X, q.Y, q.Z},

		LinearAccelG:  [3]float32{s.LinearAcceleration.X, s.LinearAcceleration.Y, s.LinearAcceleration.Z},
		EarthAccelG:   [3]float32{s.EarthAcceleration.X, s.EarthAcceleration.Y, s.EarthAcceleration.Z},
		GyroOffsetDPS: [3]float32{s.GyroscopeOffset.X, s.GyroscopeOffset.Y, s.GyroscopeOffset.Z},

		Flags: AttitudeFlags{
			Initialising:         s.Flags.Initialising,
			AngularRateRecovery:  s.Flags.AngularRateRecovery,
			AccelerationRecovery: s.Flags.AccelerationRecovery,
			MagneticRecovery:     s.Flags.MagneticRecovery,
		},
		AccelErrorDeg:        s.States.AccelerationError,
		AccelIgnored:         s.States.AccelerometerIgnored,
		AccelRecoveryTrigger: s.States.AccelerationRecoveryTrigger,
		MagErrorDeg:          s.States.MagneticError,
		MagIgnored:           s.States.MagnetometerIgnored,
		MagRecoveryTrigger:   s.States.MagneticRecoveryTrigger,

		OrientationSet: s.OrientationSet,
		ForwardAxis:    s.OrientationForwardAxis,

		Samples:     s.Samples,
		SensorTimeS: s.SensorTime.Seconds(),
		LastError:   s.LastError,
	}
	if !s.UpdatedAt.IsZero() {
		a.LastUpdateUTC = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return a
}

// AttitudeBroadcaster fans attitude updates out to listeners (e.g. SSE).
// It keeps the most recent value so new subscribers get an immediate sample.
// Slow subscribers miss updates rather than block Publish.
type AttitudeBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Attitude
	nextID   int
	last     Attitude
	haveLast bool
}

func NewAttitudeBroadcaster() *AttitudeBroadcaster {
	return &AttitudeBroadcaster{
		subs: make(map[int]chan Attitude),
	}
}

func (b *AttitudeBroadcaster) Subscribe(buffer int) (int, <-chan Attitude) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Attitude, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *AttitudeBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports how many listeners are attached.
func (b *AttitudeBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *AttitudeBroadcaster) Last() (Attitude, bool) {
	if b == nil {
		return Attitude{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

func (b *AttitudeBroadcaster) Publish(att Attitude) {
	if b == nil {
		return
	}
	// Sends happen under the lock so Unsubscribe never closes a channel
	// mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = att
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- att:
		default:
		}
	}
}
