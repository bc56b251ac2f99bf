package imulog

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"imufusion/internal/fusion"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 0.5,-1,2, 0,0,1
10000000,1,2,3,0.1,0.2,0.9,20,-5,-40
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].Start {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].At != 0 || recs[1].Start {
		t.Fatalf("unexpected record 1: %+v", recs[1])
	}
	want1 := Sample{
		Gyroscope:     fusion.Vector{X: 0.5, Y: -1, Z: 2},
		Accelerometer: fusion.Vector{Z: 1},
	}
	if !reflect.DeepEqual(recs[1].Sample, want1) {
		t.Fatalf("sample 1 = %+v, want %+v", recs[1].Sample, want1)
	}
	if recs[2].At != 10*time.Millisecond {
		t.Fatalf("expected At=10ms, got %s", recs[2].At)
	}
	if !recs[2].Sample.HasMag || recs[2].Sample.Magnetometer != (fusion.Vector{X: 20, Y: -5, Z: -40}) {
		t.Fatalf("unexpected magnetometer: %+v", recs[2].Sample)
	}
}

func TestReaderNextStreams(t *testing.T) {
	r := NewReader(strings.NewReader("START\n5,0,0,0,0,0,1\n"))
	rec, err := r.Next()
	if err != nil || !rec.Start {
		t.Fatalf("first Next() = %+v, %v", rec, err)
	}
	rec, err = r.Next()
	if err != nil || rec.At != 5 {
		t.Fatalf("second Next() = %+v, %v", rec, err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("err=%v want io.EOF", err)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"FieldCount", "0,1,2,3\n", "want 7 or 10 fields"},
		{"Timestamp", "x,0,0,0,0,0,1\n", "invalid timestamp"},
		{"Negative", "-1,0,0,0,0,0,1\n", "negative"},
		{"Value", "0,0,0,zz,0,0,1\n", "invalid value in field 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader("START\n" + tc.in)).ReadAll()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
			if !strings.Contains(err.Error(), "line 2") {
				t.Fatalf("err=%v want line number", err)
			}
		})
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	mk := func(z float32) Sample { return Sample{Accelerometer: fusion.Vector{Z: z}} }

	recs := []Record{
		{At: 1 * time.Second, Start: true},
		{At: 1 * time.Second, Sample: mk(1)},
		{At: 1*time.Second + 100*time.Nanosecond, Sample: mk(2)},
		{At: 2 * time.Second, Start: true},
		{At: 2*time.Second + 50*time.Nanosecond, Sample: mk(3)},
	}

	var got []float32
	var ats []time.Duration
	err := Play(recs, 1.0, false, fs, func(at time.Duration, s Sample) error {
		got = append(got, s.Accelerometer.Z)
		ats = append(ats, at)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if !reflect.DeepEqual(got, []float32{1, 2, 3}) {
		t.Fatalf("samples = %v, want [1 2 3]", got)
	}
	if !reflect.DeepEqual(ats, []time.Duration{0, 100, 50}) {
		t.Fatalf("ats = %v, want [0 100ns 50ns]", ats)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0},
		{At: 100 * time.Nanosecond},
	}

	err := Play(recs, 2.0, false, fs, func(time.Duration, Sample) error { return nil })
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0}}
	cb := func(time.Duration, Sample) error { return nil }
	if err := Play(recs, 0, false, nil, cb); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(nil, 1, false, nil, cb); err == nil {
		t.Fatalf("expected error for no records")
	}
	if err := Play(recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	s := Sample{
		Gyroscope:     fusion.Vector{X: 0.25, Y: -1, Z: 0},
		Accelerometer: fusion.Vector{Z: 1},
	}
	if err := w.WriteSample(time.Unix(0, 20), s); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	s.Magnetometer = fusion.Vector{X: 20.5, Z: -40}
	s.HasMag = true
	if err := w.WriteAt(30, s); err != nil {
		t.Fatalf("WriteAt() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteAt(40, s); err == nil {
		t.Fatalf("expected error writing after Close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	want := "START\n20,0.25,-1,0,0,0,1\n30,0.25,-1,0,0,0,1,20.5,0,-40\n"
	if string(b) != want {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	want := Sample{
		Gyroscope:     fusion.Vector{X: 0.1, Y: 1e-7, Z: -123.456},
		Accelerometer: fusion.Vector{X: 1.0 / 3, Y: -0.7, Z: 0.98},
		Magnetometer:  fusion.Vector{X: 21.3, Y: -4.4, Z: -39.9},
		HasMag:        true,
	}
	if err := w.WriteAt(7*time.Millisecond, want); err != nil {
		t.Fatalf("WriteAt() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 2 || !recs[0].Start {
		t.Fatalf("records=%+v", recs)
	}
	if recs[1].At != 7*time.Millisecond {
		t.Fatalf("At=%s want 7ms", recs[1].At)
	}
	if !reflect.DeepEqual(recs[1].Sample, want) {
		t.Fatalf("sample=%+v want %+v", recs[1].Sample, want)
	}
}
