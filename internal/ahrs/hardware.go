package ahrs

import (
	"fmt"
	"sync"
	"time"

	"imufusion/internal/drdy"
	"imufusion/internal/i2c"
	"imufusion/internal/imulog"
	"imufusion/internal/sensors/icm20948"
)

// Source yields raw sensor samples.
type Source interface {
	Read() (imulog.Sample, error)
	GyroscopeRange() float32
	HasMagnetometer() bool
	Close() error
}

// pacer says when to read. Ticks carry a monotonic timestamp.
type pacer interface {
	Ticks() <-chan time.Duration
	Close() error
}

// openHardware is replaced in tests.
var openHardware = func(cfg Config) (Source, pacer, error) {
	src, err := openICM20948(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DRDYChip == "" {
		return src, newTickerPacer(cfg.SampleRate), nil
	}
	pin, err := drdy.Open(cfg.DRDYChip, cfg.DRDYLine)
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	return src, newDRDYPacer(pin), nil
}

type icmSource struct {
	bus *i2c.Bus
	dev *icm20948.Device
}

func openICM20948(cfg Config) (*icmSource, error) {
	bus, err := i2c.OpenBus(cfg.I2CBus)
	if err != nil {
		return nil, err
	}
	opts := icm20948.Options{SampleRate: cfg.SampleRate}
	if cfg.Magnetometer {
		opts.Mag = bus.Dev(cfg.MagAddr)
	}
	dev, err := icm20948.New(bus.Dev(cfg.IMUAddr), opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("imu init: %w", err)
	}
	return &icmSource{bus: bus, dev: dev}, nil
}

func (s *icmSource) Read() (imulog.Sample, error) {
	r, err := s.dev.Read()
	if err != nil {
		return imulog.Sample{}, err
	}
	return imulog.Sample{
		Gyroscope:     r.Gyroscope,
		Accelerometer: r.Accelerometer,
		Magnetometer:  r.Magnetometer,
		HasMag:        r.HasMag,
	}, nil
}

func (s *icmSource) GyroscopeRange() float32 { return s.dev.GyroscopeRange() }

func (s *icmSource) HasMagnetometer() bool { return s.dev.HasMagnetometer() }

func (s *icmSource) Close() error { return s.bus.Close() }

type tickerPacer struct {
	ticks    chan time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newTickerPacer(rate int) *tickerPacer {
	if rate <= 0 {
		rate = 100
	}
	p := &tickerPacer{ticks: make(chan time.Duration, 1), stop: make(chan struct{})}
	start := time.Now()
	tick := time.NewTicker(time.Second / time.Duration(rate))
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-p.stop:
				return
			case now := <-tick.C:
				select {
				case p.ticks <- now.Sub(start):
				default:
				}
			}
		}
	}()
	return p
}

func (p *tickerPacer) Ticks() <-chan time.Duration { return p.ticks }

func (p *tickerPacer) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	return nil
}

type drdyPacer struct {
	pin   *drdy.Pin
	ticks chan time.Duration
}

func newDRDYPacer(pin *drdy.Pin) *drdyPacer {
	p := &drdyPacer{pin: pin, ticks: make(chan time.Duration, 1)}
	go func() {
		defer close(p.ticks)
		for ev := range pin.Events() {
			select {
			case p.ticks <- ev.At:
			default:
			}
		}
	}()
	return p
}

func (p *drdyPacer) Ticks() <-chan time.Duration { return p.ticks }

func (p *drdyPacer) Close() error { return p.pin.Close() }
