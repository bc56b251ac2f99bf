package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imufusion/internal/ahrs"
	"imufusion/internal/config"
	"imufusion/internal/fusion"
	"imufusion/internal/gdl90"
	"imufusion/internal/logging"
	"imufusion/internal/telemetry"
	"imufusion/internal/udp"
	"imufusion/internal/web"
)

type snapshotter interface {
	Snapshot() ahrs.Snapshot
}

// logSnapshots reports the estimate every interval until ctx ends. A zero
// interval only waits.
func logSnapshots(ctx context.Context, logger *slog.Logger, svc snapshotter, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			snap := svc.Snapshot()
			if !snap.Valid {
				logger.Warn("ahrs not valid", "last_error", snap.LastError)
				continue
			}
			logger.Info("ahrs",
				"roll", snap.Euler.Roll,
				"pitch", snap.Euler.Pitch,
				"yaw", snap.Euler.Yaw,
				"samples", snap.Samples,
				"initialising", snap.Flags.Initialising,
				"accel_ignored", snap.States.AccelerometerIgnored,
				"mag_ignored", snap.States.MagnetometerIgnored,
			)
		}
	}
}

type datagramSender interface {
	Send(payload []byte) error
}

// attitudeEncoder turns one attitude into the datagrams sent for it.
type attitudeEncoder func(web.Attitude) ([][]byte, error)

func newAttitudeEncoder(format string, conv fusion.Convention) attitudeEncoder {
	if format == "gdl90" {
		return func(a web.Attitude) ([][]byte, error) {
			e := fusion.Euler{Roll: a.RollDeg, Pitch: a.PitchDeg, Yaw: a.YawDeg}
			return gdl90.AttitudeFrames(gdl90.AttitudeFromEuler(e, conv, a.Valid, a.MagDetected)), nil
		}
	}
	return func(a web.Attitude) ([][]byte, error) {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		return [][]byte{append(b, '\n')}, nil
	}
}

// publishAttitude pushes the estimate to att and, when out is set, as UDP
// datagrams every interval until ctx ends. A send failure is logged once
// until sending succeeds again.
func publishAttitude(ctx context.Context, logger *slog.Logger, svc snapshotter, interval time.Duration, att *web.AttitudeBroadcaster, out datagramSender, encode attitudeEncoder) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			a := web.AttitudeFromSnapshot(svc.Snapshot())
			att.Publish(a)
			if out == nil {
				continue
			}
			if err := sendAll(out, encode, a); err != nil {
				if !failing {
					logger.Warn("attitude udp send failed", "err", err)
					failing = true
				}
				continue
			}
			if failing {
				logger.Info("attitude udp send recovered")
				failing = false
			}
		}
	}
}

func sendAll(out datagramSender, encode attitudeEncoder, a web.Attitude) error {
	datagrams, err := encode(a)
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if err := out.Send(d); err != nil {
			return err
		}
	}
	return nil
}

func runLive(ctx context.Context, cfg config.Config, console io.Writer) error {
	logBuf := web.NewLogBuffer(2000)
	logger, closer, err := logging.Setup(cfg.Log, console, logBuf)
	if err != nil {
		return err
	}
	defer closer.Close()

	svcCfg, err := ahrs.FromConfig(cfg)
	if err != nil {
		return err
	}
	rec := telemetry.NewRecorder()
	svcCfg.Logger = logger
	svcCfg.Telemetry = rec

	conv, err := fusion.ParseConvention(cfg.Fusion.Convention)
	if err != nil {
		return err
	}
	encode := newAttitudeEncoder(cfg.Stream.Format, conv)
	var out datagramSender
	if cfg.Stream.UDPDest != "" {
		sender, err := udp.NewSender(cfg.Stream.UDPDest)
		if err != nil {
			logger.Error("attitude udp init failed", "err", err)
			return err
		}
		defer sender.Close()
		out = sender
	}

	svc := ahrs.New(svcCfg)
	if err := svc.Start(ctx); err != nil {
		logger.Error("ahrs init failed", "err", err)
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	logger.Info("imufusion starting", "udp_dest", cfg.Stream.UDPDest, "stream_format", cfg.Stream.Format, "web_listen", cfg.Web.Listen)
	att := web.NewAttitudeBroadcaster()
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.Log(ctx, logger, cfg.Metrics.Interval)
	}()
	go func() {
		defer wg.Done()
		publishAttitude(ctx, logger, svc, cfg.Stream.Interval, att, out, encode)
	}()
	if cfg.Web.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := web.Serve(ctx, cfg.Web.Listen, web.Handler(svc, att, logBuf))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("web server failed", "err", err)
			}
		}()
	}
	logSnapshots(ctx, logger, svc, cfg.Metrics.Interval)
	logger.Info("imufusion stopping")
	return nil
}

func doLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := runLive(ctx, cfg, cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("live: %w", err)
	}
	return nil
}
