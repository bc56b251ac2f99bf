package imulog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"imufusion/internal/fusion"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,gx,gy,gz,ax,ay,az[,mx,my,mz]
//   where t_ns is nanoseconds since START (monotonic), gyroscope is in deg/s,
//   accelerometer in g and magnetometer in any consistent unit (uT from the
//   ICM-20948). Values are raw, before calibration.

// Sample is one uncalibrated IMU reading.
type Sample struct {
	Gyroscope     fusion.Vector
	Accelerometer fusion.Vector
	Magnetometer  fusion.Vector
	HasMag        bool
}

// Record is either a START marker or a timestamped sample.
type Record struct {
	At     time.Duration
	Start  bool
	Sample Sample
}

type Reader struct {
	s    *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{s: s}
}

// Next returns the next record, or io.EOF at the end of input.
func (rr *Reader) Next() (Record, error) {
	for rr.s.Scan() {
		rr.line++
		line := strings.TrimSpace(rr.s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			return Record{Start: true}, nil
		}
		rec, err := parseLine(line)
		if err != nil {
			return Record{}, fmt.Errorf("imulog: line %d: %w", rr.line, err)
		}
		return rec, nil
	}
	if err := rr.s.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func (rr *Reader) ReadAll() ([]Record, error) {
	recs := make([]Record, 0, 1024)
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 && len(fields) != 10 {
		return Record{}, fmt.Errorf("invalid line (want 7 or 10 fields, got %d): %q", len(fields), line)
	}

	tsStr := strings.TrimSpace(fields[0])
	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid timestamp (negative): %d", tsNs)
	}

	var v [9]float32
	for i, f := range fields[1:] {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return Record{}, fmt.Errorf("invalid value in field %d: %w", i+1, err)
		}
		v[i] = float32(x)
	}

	s := Sample{
		Gyroscope:     fusion.Vector{X: v[0], Y: v[1], Z: v[2]},
		Accelerometer: fusion.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
	if len(fields) == 10 {
		s.Magnetometer = fusion.Vector{X: v[6], Y: v[7], Z: v[8]}
		s.HasMag = true
	}
	return Record{At: time.Duration(tsNs), Sample: s}, nil
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

// WriteSample appends s stamped with now relative to the writer's start.
func (ww *Writer) WriteSample(now time.Time, s Sample) error {
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	return ww.WriteAt(d, s)
}

// WriteAt appends s at an explicit offset from START.
func (ww *Writer) WriteAt(at time.Duration, s Sample) error {
	if ww.closed {
		return errors.New("imulog: writer is closed")
	}
	_, err := io.WriteString(ww.w, FormatLine(at, s))
	return err
}

// FormatLine renders one data line, newline included.
func FormatLine(at time.Duration, s Sample) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(at.Nanoseconds(), 10))
	vs := []fusion.Vector{s.Gyroscope, s.Accelerometer}
	if s.HasMag {
		vs = append(vs, s.Magnetometer)
	}
	for _, v := range vs {
		for _, x := range [3]float32{v.X, v.Y, v.Z} {
			b.WriteByte(',')
			b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
		}
	}
	b.WriteByte('\n')
	return b.String()
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// cb is invoked for every sample with its time since the most recent START.
// START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(at time.Duration, s Sample) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("imulog: speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("imulog: callback is nil")
	}
	if len(records) == 0 {
		return errors.New("imulog: no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.Start {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(at, r.Sample); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
