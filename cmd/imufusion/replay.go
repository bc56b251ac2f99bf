package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"imufusion/internal/fusion"
	"imufusion/internal/imulog"
	"imufusion/internal/telemetry"
)

type replayResult struct {
	Samples    int
	Segments   int
	Duration   time.Duration
	Quaternion fusion.Quaternion
	Euler      fusion.Euler
	Offset     fusion.Vector

	Roll, Pitch, Yaw []float64

	Counters map[string]int64
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

// replayRecords fuses records in order. A START marker restarts the
// timestamps at zero, which the filter treats as a gap. every > 0 prints an
// Euler row to rows every that many samples.
func replayRecords(records []imulog.Record, opts fusion.Options, speed float64, sleeper imulog.Sleeper, every int, rows io.Writer) (replayResult, error) {
	if speed <= 0 {
		speed = 1
		sleeper = noSleep{}
	}
	f := fusion.New(opts)
	rec := telemetry.NewRecorder()
	res := replayResult{}
	for _, r := range records {
		if r.Start {
			res.Segments++
		}
	}
	if res.Segments == 0 && len(records) > 0 {
		res.Segments = 1
	}

	err := imulog.Play(records, speed, false, sleeper, func(at time.Duration, s imulog.Sample) error {
		mag := fusion.VectorZero
		if s.HasMag {
			mag = s.Magnetometer
		}
		began := time.Now()
		f.Update(s.Gyroscope, s.Accelerometer, mag, at.Seconds())
		rec.Observe(f, time.Since(began), s.HasMag)

		e := f.Euler()
		res.Samples++
		res.Roll = append(res.Roll, float64(e.Roll))
		res.Pitch = append(res.Pitch, float64(e.Pitch))
		res.Yaw = append(res.Yaw, float64(e.Yaw))
		if at > res.Duration {
			res.Duration = at
		}
		if every > 0 && rows != nil && res.Samples%every == 0 {
			fmt.Fprintf(rows, "%.3f roll=%.2f pitch=%.2f yaw=%.2f\n", at.Seconds(), e.Roll, e.Pitch, e.Yaw)
		}
		return nil
	})
	if err != nil {
		return replayResult{}, err
	}

	res.Quaternion = f.Quaternion()
	res.Euler = f.Euler()
	res.Offset = f.GyroscopeOffset()
	res.Counters = rec.Snapshot()
	return res, nil
}

// circularMeanDeg averages angles on the circle, in degrees.
func circularMeanDeg(deg []float64) float64 {
	rad := make([]float64, len(deg))
	for i, d := range deg {
		rad[i] = d * math.Pi / 180
	}
	return stat.CircularMean(rad, nil) * 180 / math.Pi
}

func renderReplay(w io.Writer, path string, res replayResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("%s", path)
	tw.AppendHeader(table.Row{"METRIC", "VALUE"})
	tw.AppendRow(table.Row{"samples", res.Samples})
	tw.AppendRow(table.Row{"segments", res.Segments})
	tw.AppendRow(table.Row{"duration", res.Duration})
	q := res.Quaternion
	tw.AppendRow(table.Row{"quaternion", fmt.Sprintf("%.4f %.4f %.4f %.4f", q.W, q.X, q.Y, q.Z)})
	tw.AppendRow(table.Row{"euler", fmt.Sprintf("roll=%.2f pitch=%.2f yaw=%.2f", res.Euler.Roll, res.Euler.Pitch, res.Euler.Yaw)})
	tw.AppendRow(table.Row{"gyro offset", fmt.Sprintf("%.3f %.3f %.3f", res.Offset.X, res.Offset.Y, res.Offset.Z)})
	if res.Samples > 0 {
		rollMean, rollStd := stat.MeanStdDev(res.Roll, nil)
		pitchMean, pitchStd := stat.MeanStdDev(res.Pitch, nil)
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"roll mean/std", fmt.Sprintf("%.2f / %.2f", rollMean, rollStd)})
		tw.AppendRow(table.Row{"pitch mean/std", fmt.Sprintf("%.2f / %.2f", pitchMean, pitchStd)})
		tw.AppendRow(table.Row{"yaw circular mean", fmt.Sprintf("%.2f", circularMeanDeg(res.Yaw))})
	}
	tw.AppendSeparator()
	for _, name := range []string{
		telemetry.AccelerometerIgnored,
		telemetry.MagnetometerIgnored,
		telemetry.AngularRateRecovery,
		telemetry.AccelerationRecovery,
		telemetry.MagneticRecovery,
	} {
		tw.AppendRow(table.Row{name, res.Counters[name]})
	}
	tw.Render()
}

func doReplay(cmd *cobra.Command, args []string) error {
	every, err := cmd.Flags().GetInt("every")
	if err != nil {
		return err
	}
	speed, err := cmd.Flags().GetFloat64("speed")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := cfg.FusionOptions()
	if err != nil {
		return err
	}

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	records, err := imulog.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	res, err := replayRecords(records, opts, speed, nil, every, out)
	if err != nil {
		return err
	}
	renderReplay(out, path, res)
	return nil
}
