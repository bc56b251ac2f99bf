// Package icm20948 drives an ICM-20948 9-axis IMU: the accelerometer and
// gyroscope directly, and its AK09916 magnetometer through I2C bypass.
package icm20948

import (
	"fmt"
	"math"
	"time"

	"imufusion/internal/fusion"
	"imufusion/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault    = 0x68
	magAddrDefault = 0x0C

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	bitI2CMstEn   = 0x20
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	clkAuto       = 0x01
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regIntEnable1 = 0x11
	bitRawRdyEn   = 0x01
	regAccelXoutH = 0x2D // accel then gyro, 12 bytes

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig1  = 0x01
	regAccelSmplrt1 = 0x10
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	// FCHOICE=1, DLPFCFG=1, full scale 2000 dps / 16 g.
	gyroConfig2000dps = 1<<3 | 3<<1 | 1
	accelConfig16g    = 1<<3 | 3<<1 | 1

	baseRate = 1125.0

	gyroRange  = 2000.0
	accelRange = 16.0
)

// AK09916 registers.
const (
	magRegWIA2  = 0x01
	magWIA2Val  = 0x09
	magRegST1   = 0x10
	bitDRDY     = 0x01
	magRegHXL   = 0x11 // HXL..ST2, 8 bytes
	bitHOFL     = 0x08
	magRegCNTL2 = 0x31
	magCont100  = 0x08
	magRegCNTL3 = 0x32
	bitSRST     = 0x01

	// uT per LSB.
	magScale = 0.15
)

// Sample is one reading in sensor axes: deg/s, g and uT.
type Sample struct {
	Gyroscope     fusion.Vector
	Accelerometer fusion.Vector
	Magnetometer  fusion.Vector
	// HasMag is false until the magnetometer delivers its first valid
	// measurement, and always false without one.
	HasMag bool
}

// Options configure the device at start-up.
type Options struct {
	// SampleRate in Hz; the nearest divider of the 1125 Hz base is used.
	SampleRate int
	// Mag is the AK09916 behind bypass, nil to skip the magnetometer.
	Mag i2c.RegIO
}

type Device struct {
	dev i2c.RegIO
	mag i2c.RegIO

	curBank byte
	rate    float64

	scaleAccel float32
	scaleGyro  float32

	lastMag fusion.Vector
	haveMag bool
	buf     [12]byte
}

func DefaultAddress() uint16 { return addrDefault }

func DefaultMagAddress() uint16 { return magAddrDefault }

// New probes and configures the device.
func New(dev i2c.RegIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 100
	}
	d := &Device{dev: dev, mag: opts.Mag, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(opts.SampleRate); err != nil {
		return nil, err
	}
	if d.mag != nil {
		if err := d.initMag(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Device) init(sampleRate int) error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset puts the bank select back to 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	div := sampleRateDivider(sampleRate)
	d.rate = baseRate / float64(div+1)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	err := i2c.WriteSequence(d.dev,
		i2c.RegWrite{Reg: regGyroSmplrt, Value: byte(div)},
		i2c.RegWrite{Reg: regAccelSmplrt1, Value: byte(div >> 8)},
		i2c.RegWrite{Reg: regAccelSmplrt2, Value: byte(div)},
		i2c.RegWrite{Reg: regGyroConfig1, Value: gyroConfig2000dps},
		i2c.RegWrite{Reg: regAccelConfig, Value: accelConfig16g},
	)
	if err != nil {
		return fmt.Errorf("icm20948: configure: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	// Hand the auxiliary bus to the host so the magnetometer shows up on it,
	// and raise INT on every raw sample.
	if err := i2c.UpdateBits(d.dev, regUserCtrl, bitI2CMstEn, 0); err != nil {
		return fmt.Errorf("icm20948: user ctrl: %w", err)
	}
	if err := i2c.UpdateBits(d.dev, regIntPinCfg, bitBypassEn, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass: %w", err)
	}
	if err := d.dev.WriteReg(regIntEnable1, bitRawRdyEn); err != nil {
		return fmt.Errorf("icm20948: int enable: %w", err)
	}

	d.scaleAccel = accelRange / 32768
	d.scaleGyro = gyroRange / 32768
	return nil
}

func (d *Device) initMag() error {
	wia, err := d.mag.ReadRegU8(magRegWIA2)
	if err != nil {
		return fmt.Errorf("icm20948: ak09916 whoami read failed: %w", err)
	}
	if wia != magWIA2Val {
		return fmt.Errorf("icm20948: ak09916 wia2=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(magRegCNTL3, bitSRST); err != nil {
		return fmt.Errorf("icm20948: ak09916 reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(magRegCNTL2, magCont100); err != nil {
		return fmt.Errorf("icm20948: ak09916 mode failed: %w", err)
	}
	return nil
}

// sampleRateDivider picks the divider whose rate is closest to hz.
func sampleRateDivider(hz int) int {
	div := int(math.Round(baseRate/float64(hz))) - 1
	if div < 0 {
		return 0
	}
	if div > 255 {
		return 255
	}
	return div
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// SampleRate is the output data rate actually configured, in Hz.
func (d *Device) SampleRate() float64 { return d.rate }

// GyroscopeRange is the configured full scale in deg/s.
func (d *Device) GyroscopeRange() float32 { return gyroRange }

func (d *Device) HasMagnetometer() bool { return d.mag != nil }

// Read returns the latest accelerometer and gyroscope sample and the most
// recent valid magnetometer reading.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	buf := d.buf[:]
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	s := Sample{
		Accelerometer: fusion.Vector{
			X: float32(be16(buf[0:])) * d.scaleAccel,
			Y: float32(be16(buf[2:])) * d.scaleAccel,
			Z: float32(be16(buf[4:])) * d.scaleAccel,
		},
		Gyroscope: fusion.Vector{
			X: float32(be16(buf[6:])) * d.scaleGyro,
			Y: float32(be16(buf[8:])) * d.scaleGyro,
			Z: float32(be16(buf[10:])) * d.scaleGyro,
		},
	}

	if d.mag != nil {
		if err := d.readMag(); err != nil {
			return Sample{}, err
		}
		s.Magnetometer = d.lastMag
		s.HasMag = d.haveMag
	}
	return s, nil
}

func (d *Device) readMag() error {
	st1, err := d.mag.ReadRegU8(magRegST1)
	if err != nil {
		return fmt.Errorf("icm20948: ak09916 status failed: %w", err)
	}
	if st1&bitDRDY == 0 {
		return nil
	}
	var raw [8]byte
	// Reading through ST2 releases the data registers.
	if err := d.mag.ReadReg(magRegHXL, raw[:]); err != nil {
		return fmt.Errorf("icm20948: ak09916 read failed: %w", err)
	}
	if raw[7]&bitHOFL != 0 {
		return nil
	}
	// The AK09916 Y and Z axes point opposite to the accelerometer's.
	d.lastMag = fusion.Vector{
		X: float32(le16(raw[0:])) * magScale,
		Y: -float32(le16(raw[2:])) * magScale,
		Z: -float32(le16(raw[4:])) * magScale,
	}
	d.haveMag = true
	return nil
}

func be16(b []byte) int16 { return int16(b[0])<<8 | int16(b[1]) }

func le16(b []byte) int16 { return int16(b[1])<<8 | int16(b[0]) }
