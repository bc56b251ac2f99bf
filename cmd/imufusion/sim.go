package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imufusion/internal/imulog"
	"imufusion/internal/sim"
)

func loadScenario(name, script string) (*sim.Scenario, error) {
	var s sim.ScenarioScript
	var err error
	if script != "" {
		s, err = sim.LoadScenarioScript(script)
	} else {
		s, err = sim.Builtin(name)
	}
	if err != nil {
		return nil, err
	}
	return sim.NewScenario(s)
}

// writeScenario writes every generated sample of scn to path.
func writeScenario(path string, scn *sim.Scenario) ([]sim.Frame, error) {
	frames := scn.Generate()
	w, err := imulog.CreateWriter(path)
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		if err := w.WriteAt(f.At, f.Sample); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return frames, nil
}

func doSim(cmd *cobra.Command, args []string) error {
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	name, err := cmd.Flags().GetString("scenario")
	if err != nil {
		return err
	}
	script, err := cmd.Flags().GetString("script")
	if err != nil {
		return err
	}

	scn, err := loadScenario(name, script)
	if err != nil {
		return err
	}
	frames, err := writeScenario(out, scn)
	if err != nil {
		return err
	}
	last := frames[len(frames)-1].Truth.Euler()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "wrote %d samples (%s at %d Hz) to %s\n", len(frames), scn.Duration(), scn.SampleRate(), out)
	fmt.Fprintf(w, "final truth: roll=%.2f pitch=%.2f yaw=%.2f\n", last.Roll, last.Pitch, last.Yaw)
	return nil
}
