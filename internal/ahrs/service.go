// Package ahrs runs the orientation filter against a live IMU and publishes
// the latest estimate.
package ahrs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"imufusion/internal/fusion"
	"imufusion/internal/imulog"
	"imufusion/internal/logging"
	"imufusion/internal/telemetry"
)

type Snapshot struct {
	Valid       bool
	IMUDetected bool
	MagDetected bool

	OrientationSet         bool
	OrientationForwardAxis int

	Quaternion         fusion.Quaternion
	Euler              fusion.Euler
	LinearAcceleration fusion.Vector
	EarthAcceleration  fusion.Vector
	GyroscopeOffset    fusion.Vector
	Flags              fusion.Flags
	States             fusion.InternalStates

	Samples uint64
	// SensorTime is the pacer timestamp of the last fused sample.
	SensorTime time.Duration

	LastError string
	UpdatedAt time.Time
}

type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Recorder

	// Owned by the run goroutine.
	fusion   *fusion.Fusion
	src      Source
	pace     pacer
	rec      *imulog.Writer
	failures int
	last     imulog.Sample
	haveLast bool
	samples  uint64

	headingCh chan headingReq
	reinitCh  chan chan error
	orientCh  chan orientReq

	// Mount state; guarded by mu.
	orientationSet  bool
	forwardAxis     int
	gravityInSensor [3]float64
	mount           fusion.Matrix

	mu   sync.RWMutex
	snap Snapshot

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 100
	}
	if cfg.Fusion.SampleRate == 0 {
		cfg.Fusion.SampleRate = uint(cfg.SampleRate)
	}
	if cfg.I2CBus == 0 {
		cfg.I2CBus = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	s := &Service{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "ahrs"),
		metrics:   cfg.Telemetry,
		headingCh: make(chan headingReq, 1),
		reinitCh:  make(chan chan error, 1),
		orientCh:  make(chan orientReq, 1),
		mount:     fusion.MatrixIdentity,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.forwardAxis = cfg.OrientationForwardAxis
	s.snap.OrientationForwardAxis = cfg.OrientationForwardAxis
	return s
}

// Start opens the sensor and runs the filter until ctx ends or Close.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ahrs: already started")
	}

	src, pace, err := openHardware(s.cfg)
	if err != nil {
		s.running.Store(false)
		s.setErr(err.Error())
		return fmt.Errorf("ahrs: %w", err)
	}
	s.src = src
	s.pace = pace

	if s.cfg.RecordPath != "" {
		rec, err := imulog.CreateWriter(s.cfg.RecordPath)
		if err != nil {
			_ = pace.Close()
			_ = src.Close()
			s.running.Store(false)
			return fmt.Errorf("ahrs: %w", err)
		}
		s.rec = rec
	}

	// A persisted mount is best-effort: a bad one leaves the sensor frame in use.
	if s.cfg.OrientationForwardAxis != 0 && s.cfg.OrientationGravitySet {
		if err := s.applyOrientation(s.cfg.OrientationGravity); err != nil {
			s.logger.Warn("ignoring configured orientation", "err", err)
		}
	}

	s.fusion = fusion.New(s.options())

	s.mu.Lock()
	s.snap.IMUDetected = true
	s.snap.MagDetected = src.HasMagnetometer()
	s.mu.Unlock()

	s.logger.Info("ahrs started",
		"sample_rate", s.cfg.SampleRate,
		"drdy", s.cfg.DRDYChip != "",
		"magnetometer", src.HasMagnetometer(),
		"record", s.cfg.RecordPath,
	)
	go s.run(ctx)
	return nil
}

// Close stops the loop and releases the sensor. It is safe to call more
// than once and before Start.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.running.Load() {
		<-s.doneCh
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Orientation returns the mount in use. gravityOK reports whether the
// gravity reading is available for persistence.
func (s *Service) Orientation() (forwardAxis int, gravity [3]float64, gravityOK bool) {
	if s == nil {
		return 0, [3]float64{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.orientationSet {
		return s.forwardAxis, s.gravityInSensor, true
	}
	return s.forwardAxis, [3]float64{}, false
}

type headingReq struct {
	heading float32
	done    chan error
}

// SetHeading aligns yaw with an external heading in degrees.
func (s *Service) SetHeading(ctx context.Context, heading float32) error {
	done := make(chan error, 1)
	return s.request(ctx, func() bool {
		select {
		case s.headingCh <- headingReq{heading: heading, done: done}:
			return true
		default:
			return false
		}
	}, done, "heading")
}

// Reinitialize restarts the filter from identity with the configured
// settings, keeping the mount.
func (s *Service) Reinitialize(ctx context.Context) error {
	done := make(chan error, 1)
	return s.request(ctx, func() bool {
		select {
		case s.reinitCh <- done:
			return true
		default:
			return false
		}
	}, done, "reinitialize")
}

// OrientForward records which sensor axis points at the nose. Point that end
// of the sensor at the sky and hold it still.
func (s *Service) OrientForward(ctx context.Context) error {
	return s.orient(ctx, orientActionForward)
}

// OrientDone captures gravity over one second in the mounted, level pose and
// switches the filter to the body frame.
func (s *Service) OrientDone(ctx context.Context) error {
	return s.orient(ctx, orientActionDone)
}

func (s *Service) orient(ctx context.Context, action orientAction) error {
	done := make(chan error, 1)
	return s.request(ctx, func() bool {
		select {
		case s.orientCh <- orientReq{action: action, done: done}:
			return true
		default:
			return false
		}
	}, done, "orientation")
}

func (s *Service) request(ctx context.Context, send func() bool, done <-chan error, what string) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ahrs: ctx is nil")
	}
	if !s.running.Load() {
		return fmt.Errorf("ahrs: not running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !send() {
		return fmt.Errorf("ahrs: %s already in progress", what)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return fmt.Errorf("ahrs: stopped")
	}
}

type orientAction int

const (
	orientActionForward orientAction = iota
	orientActionDone
)

type orientReq struct {
	action orientAction
	done   chan error
}

type orientCapture struct {
	active bool
	done   chan error
	sum    [3]float64
	n      int
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.release()

	var capture orientCapture
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case req := <-s.headingCh:
			s.fusion.SetHeading(req.heading)
			s.publish()
			req.done <- nil
		case done := <-s.reinitCh:
			s.fusion.Reinitialize(s.options())
			s.publish()
			s.logger.Info("filter reinitialised")
			done <- nil
		case req := <-s.orientCh:
			s.handleOrient(req, &capture)
		case at, ok := <-s.pace.Ticks():
			if !ok {
				s.setErr("pacer stopped")
				s.logger.Error("sample pacer stopped")
				return
			}
			if !s.step(at) {
				continue
			}
			if capture.active {
				s.captureGravity(&capture)
			}
		}
	}
}

// step reads and fuses one sample. It reports whether a sample was fused.
func (s *Service) step(at time.Duration) bool {
	sample, err := s.src.Read()
	if err != nil {
		s.failures++
		if s.failures == 1 {
			s.logger.Warn("imu read failed", "err", err)
		}
		s.setErr(err.Error())
		return false
	}
	if s.failures > 0 {
		s.logger.Info("imu read recovered", "failures", s.failures)
		s.failures = 0
	}
	s.last = sample
	s.haveLast = true

	if s.rec != nil {
		if err := s.rec.WriteAt(at, sample); err != nil {
			s.logger.Error("recording stopped", "err", err)
			_ = s.rec.Close()
			s.rec = nil
		}
	}

	mag := fusion.VectorZero
	if sample.HasMag {
		mag = sample.Magnetometer
	}
	began := time.Now()
	s.fusion.Update(sample.Gyroscope, sample.Accelerometer, mag, at.Seconds())
	s.metrics.Observe(s.fusion, time.Since(began), sample.HasMag)

	s.samples++
	s.publishAt(at)
	return true
}

func (s *Service) handleOrient(req orientReq, capture *orientCapture) {
	if capture.active {
		req.done <- fmt.Errorf("ahrs: orientation already active")
		return
	}
	switch req.action {
	case orientActionForward:
		if !s.haveLast {
			req.done <- fmt.Errorf("ahrs: no imu samples yet")
			return
		}
		f := dominantAxis(s.last.Accelerometer)
		s.mu.Lock()
		s.forwardAxis = f
		s.orientationSet = false
		s.gravityInSensor = [3]float64{}
		s.mount = fusion.MatrixIdentity
		s.snap.OrientationForwardAxis = f
		s.snap.OrientationSet = false
		s.mu.Unlock()
		s.fusion.Reinitialize(s.options())
		s.logger.Info("forward axis set", "axis", f)
		req.done <- nil
	case orientActionDone:
		s.mu.RLock()
		f := s.forwardAxis
		s.mu.RUnlock()
		if f == 0 {
			req.done <- fmt.Errorf("ahrs: forward direction not set")
			return
		}
		*capture = orientCapture{active: true, done: req.done}
	default:
		req.done <- fmt.Errorf("ahrs: unknown orientation action")
	}
}

func (s *Service) captureGravity(capture *orientCapture) {
	a := s.last.Accelerometer
	capture.sum[0] += float64(a.X)
	capture.sum[1] += float64(a.Y)
	capture.sum[2] += float64(a.Z)
	capture.n++
	if capture.n < s.cfg.SampleRate {
		return
	}
	n := float64(capture.n)
	avg := [3]float64{capture.sum[0] / n, capture.sum[1] / n, capture.sum[2] / n}
	err := s.applyOrientation(avg)
	if err == nil {
		s.fusion.Reinitialize(s.options())
		s.logger.Info("orientation set", "forward_axis", s.forwardAxis, "gravity", avg)
	}
	capture.done <- err
	*capture = orientCapture{}
}

func (s *Service) applyOrientation(gravity [3]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwardAxis == 0 {
		return fmt.Errorf("ahrs: forward direction not set")
	}
	m, err := mountMatrix(s.forwardAxis, gravity, s.cfg.Fusion.Settings.Convention)
	if err != nil {
		return err
	}
	s.mount = m
	s.gravityInSensor = gravity
	s.orientationSet = true
	s.snap.OrientationSet = true
	s.snap.OrientationForwardAxis = s.forwardAxis
	return nil
}

// options returns the configured fusion options with the mount applied and
// the rejection range capped at what the sensor can report.
func (s *Service) options() fusion.Options {
	opts := s.cfg.Fusion
	s.mu.RLock()
	mount := s.mount
	s.mu.RUnlock()
	opts.Calibration = mountCalibration(opts.Calibration, mount)
	if s.src != nil {
		if r := s.src.GyroscopeRange(); r > 0 && opts.Settings.GyroscopeRange > r {
			opts.Settings.GyroscopeRange = r
		}
	}
	return opts
}

func (s *Service) publish() { s.publishAt(s.snap.SensorTime) }

func (s *Service) publishAt(at time.Duration) {
	f := s.fusion
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Valid = s.samples > 0
	s.snap.Quaternion = f.Quaternion()
	s.snap.Euler = f.Euler()
	s.snap.LinearAcceleration = f.BodyLinearAcceleration()
	s.snap.EarthAcceleration = f.EarthAcceleration()
	s.snap.GyroscopeOffset = f.GyroscopeOffset()
	s.snap.Flags = f.Flags()
	s.snap.States = f.InternalStates()
	s.snap.Samples = s.samples
	s.snap.SensorTime = at
	s.snap.UpdatedAt = time.Now().UTC()
	s.snap.LastError = ""
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = "imu: " + msg
	s.snap.Valid = false
	s.snap.UpdatedAt = time.Now().UTC()
}

func (s *Service) release() {
	if s.pace != nil {
		_ = s.pace.Close()
	}
	if s.src != nil {
		_ = s.src.Close()
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.logger.Warn("closing recording", "err", err)
		}
		s.rec = nil
	}
	s.logger.Info("ahrs stopped", "samples", s.samples)
}
