package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"imufusion/internal/imulog"
)

type logSummary struct {
	Segments    int
	Samples     int
	MagSamples  int
	MaxDuration time.Duration
	// Mean and standard deviation of the sample interval, seconds.
	IntervalMean float64
	IntervalStd  float64
}

func summarizeIMULog(records []imulog.Record) logSummary {
	s := logSummary{}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	var last time.Duration
	haveLast := false
	hasSamples := false
	segments := 0
	var intervals []float64

	for _, r := range records {
		if r.Start {
			segments++
			origin = r.At
			haveLast = false
			continue
		}
		hasSamples = true

		s.Samples++
		if r.Sample.HasMag {
			s.MagSamples++
		}
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
		if haveLast && at > last {
			intervals = append(intervals, (at - last).Seconds())
		}
		last = at
		haveLast = true
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments
	if len(intervals) > 0 {
		s.IntervalMean, s.IntervalStd = stat.MeanStdDev(intervals, nil)
		if len(intervals) == 1 {
			s.IntervalStd = 0
		}
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := imulog.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	s := summarizeIMULog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %d\n", s.Samples)
	fmt.Fprintf(w, "magnetometer_samples: %d\n", s.MagSamples)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	if s.IntervalMean > 0 {
		fmt.Fprintf(w, "sample_rate_hz: %.1f\n", 1/s.IntervalMean)
		fmt.Fprintf(w, "interval_jitter_ms: %.3f\n", s.IntervalStd*1000)
	}
	return nil
}

func doSummary(cmd *cobra.Command, args []string) error {
	return printLogSummary(cmd.OutOrStdout(), args[0])
}
