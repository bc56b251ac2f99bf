// Package telemetry keeps counters and timings of the fusion loop in a
// go-metrics registry and periodically logs them.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"imufusion/internal/fusion"
)

const (
	Samples              = "fusion.samples"
	AccelerometerIgnored = "fusion.accelerometer.ignored"
	MagnetometerIgnored  = "fusion.magnetometer.ignored"
	AngularRateRecovery  = "fusion.angular_rate.recovery"
	AccelerationRecovery = "fusion.acceleration.recovery"
	MagneticRecovery     = "fusion.magnetic.recovery"
	Update               = "fusion.update"
	GyroOffsetNorm       = "fusion.gyro_offset.norm_mdps"
)

// Recorder observes a Fusion after each update. Recovery counters count
// transitions into recovery, not samples spent there.
//
// Observe must be called from one goroutine; Snapshot and Log may run
// concurrently with it.
type Recorder struct {
	registry metrics.Registry

	samples     metrics.Counter
	accIgnored  metrics.Counter
	magIgnored  metrics.Counter
	angRecovery metrics.Counter
	accRecovery metrics.Counter
	magRecovery metrics.Counter
	update      metrics.Timer
	offsetNorm  metrics.GaugeFloat64

	prev fusion.Flags
}

func NewRecorder() *Recorder {
	r := metrics.NewRegistry()
	return &Recorder{
		registry:    r,
		samples:     metrics.GetOrRegisterCounter(Samples, r),
		accIgnored:  metrics.GetOrRegisterCounter(AccelerometerIgnored, r),
		magIgnored:  metrics.GetOrRegisterCounter(MagnetometerIgnored, r),
		angRecovery: metrics.GetOrRegisterCounter(AngularRateRecovery, r),
		accRecovery: metrics.GetOrRegisterCounter(AccelerationRecovery, r),
		magRecovery: metrics.GetOrRegisterCounter(MagneticRecovery, r),
		update:      metrics.GetOrRegisterTimer(Update, r),
		offsetNorm:  metrics.GetOrRegisterGaugeFloat64(GyroOffsetNorm, r),
	}
}

func (r *Recorder) Registry() metrics.Registry { return r.registry }

// Observe records the state of f after one update that took took.
// hasMagnetometer controls whether an ignored magnetometer is counted.
func (r *Recorder) Observe(f *fusion.Fusion, took time.Duration, hasMagnetometer bool) {
	if r == nil || f == nil {
		return
	}
	r.samples.Inc(1)
	r.update.Update(took)

	st := f.InternalStates()
	if st.AccelerometerIgnored {
		r.accIgnored.Inc(1)
	}
	if hasMagnetometer && st.MagnetometerIgnored {
		r.magIgnored.Inc(1)
	}

	flags := f.Flags()
	if flags.AngularRateRecovery && !r.prev.AngularRateRecovery {
		r.angRecovery.Inc(1)
	}
	if flags.AccelerationRecovery && !r.prev.AccelerationRecovery {
		r.accRecovery.Inc(1)
	}
	if flags.MagneticRecovery && !r.prev.MagneticRecovery {
		r.magRecovery.Inc(1)
	}
	r.prev = flags

	r.offsetNorm.Update(float64(f.GyroscopeOffset().Magnitude()) * 1000)
}

// Snapshot returns counter values plus the update timer count and mean (ns).
func (r *Recorder) Snapshot() map[string]int64 {
	out := map[string]int64{}
	r.registry.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Counter:
			out[name] = v.Count()
		case metrics.Timer:
			s := v.Snapshot()
			out[name+".count"] = s.Count()
			out[name+".mean_ns"] = int64(s.Mean())
			out[name+".max_ns"] = s.Max()
		case metrics.GaugeFloat64:
			out[name] = int64(v.Value())
		}
	})
	return out
}

// Log writes a snapshot every interval until ctx is done.
func (r *Recorder) Log(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 || logger == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logger.Info("fusion metrics", r.attrs()...)
		}
	}
}

func (r *Recorder) attrs() []any {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Int64(k, snap[k]))
	}
	return out
}
