package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imufusion/internal/fusion"
	"imufusion/internal/imulog"
	"imufusion/internal/sim"
	"imufusion/internal/telemetry"
)

type recordingSleeper struct{ total time.Duration }

func (s *recordingSleeper) Sleep(d time.Duration) { s.total += d }

func spinRecords(t *testing.T) ([]imulog.Record, []sim.Frame) {
	t.Helper()
	script, err := sim.Builtin("spin")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	scn, err := sim.NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	frames := scn.Generate()
	return sim.Records(frames), frames
}

func TestReplayRecords_TracksSimulatedTurn(t *testing.T) {
	records, frames := spinRecords(t)

	var rows bytes.Buffer
	res, err := replayRecords(records, fusion.DefaultOptions(), 0, nil, 500, &rows)
	if err != nil {
		t.Fatalf("replayRecords: %v", err)
	}
	if res.Samples != len(frames) || res.Segments != 1 {
		t.Fatalf("samples=%d segments=%d", res.Samples, res.Segments)
	}
	if res.Duration != 20*time.Second {
		t.Fatalf("duration=%s want 20s", res.Duration)
	}
	want := frames[len(frames)-1].Truth.Euler().Yaw
	diff := math.Mod(float64(res.Euler.Yaw-want)+540, 360) - 180
	if math.Abs(diff) > 2 {
		t.Fatalf("yaw=%v truth=%v", res.Euler.Yaw, want)
	}
	if got := strings.Count(rows.String(), "\n"); got != len(frames)/500 {
		t.Fatalf("rows=%d want %d", got, len(frames)/500)
	}
	if res.Counters[telemetry.Samples] != int64(len(frames)) {
		t.Fatalf("counter samples=%d", res.Counters[telemetry.Samples])
	}
}

func TestReplayRecords_SpeedUsesSleeper(t *testing.T) {
	records := []imulog.Record{
		{Start: true},
		{At: 0, Sample: imulog.Sample{Accelerometer: fusion.Vector{Z: 1}}},
		{At: 100 * time.Millisecond, Sample: imulog.Sample{Accelerometer: fusion.Vector{Z: 1}}},
	}
	sl := &recordingSleeper{}
	if _, err := replayRecords(records, fusion.DefaultOptions(), 2, sl, 0, nil); err != nil {
		t.Fatalf("replayRecords: %v", err)
	}
	if sl.total != 50*time.Millisecond {
		t.Fatalf("slept=%s want 50ms", sl.total)
	}

	if _, err := replayRecords(nil, fusion.DefaultOptions(), 0, nil, 0, nil); err == nil {
		t.Fatalf("expected error for empty log")
	}
}

func TestCircularMeanDeg(t *testing.T) {
	got := circularMeanDeg([]float64{170, -170})
	if math.Abs(math.Abs(got)-180) > 1e-9 {
		t.Fatalf("mean=%v want +/-180", got)
	}
	if got := circularMeanDeg([]float64{10, 20}); math.Abs(got-15) > 1e-9 {
		t.Fatalf("mean=%v want 15", got)
	}
}

func TestRenderReplay(t *testing.T) {
	records, _ := spinRecords(t)
	res, err := replayRecords(records, fusion.DefaultOptions(), 0, nil, 0, nil)
	if err != nil {
		t.Fatalf("replayRecords: %v", err)
	}
	var buf bytes.Buffer
	renderReplay(&buf, filepath.Join("logs", "spin.log"), res)
	out := buf.String()
	for _, want := range []string{"spin.log", "samples", "2001", "roll mean/std", "yaw circular mean", telemetry.MagnetometerIgnored} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
