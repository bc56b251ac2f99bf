package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"imufusion/internal/config"
)

func main() {
	cobra.CheckErr(NewCmd().ExecuteContext(context.Background()))
}

func NewCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "imufusion [command] [flags] [args]",
		Short:         "imufusion estimates orientation from IMU samples",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "`<path>` to YAML config (defaults apply when empty)")

	replayCmd := &cobra.Command{
		Use:   "replay [flags] <log>",
		Short: "Run a recorded IMU log through the filter",
		RunE:  doReplay,
	}
	replayCmd.Args = cobra.ExactArgs(1)
	replayCmd.Flags().IntP("every", "n", 0, "print a row every `<N>` samples (0: summary only)")
	replayCmd.Flags().Float64P("speed", "s", 0, "replay at `<multiplier>` x real time (0: as fast as possible)")

	summaryCmd := &cobra.Command{
		Use:   "summary <log>",
		Short: "Summarize an IMU log",
		RunE:  doSummary,
	}
	summaryCmd.Args = cobra.ExactArgs(1)

	simCmd := &cobra.Command{
		Use:   "sim [flags]",
		Short: "Write a synthetic IMU log",
		RunE:  doSim,
	}
	simCmd.Flags().StringP("out", "o", "", "`<path>` of the log to write")
	simCmd.Flags().String("scenario", "level", "built-in `<name>` (level, spin, saturate, disturbed)")
	simCmd.Flags().String("script", "", "`<path>` to a YAML scenario script (overrides --scenario)")
	simCmd.MarkFlagRequired("out")

	liveCmd := &cobra.Command{
		Use:   "live [flags]",
		Short: "Run the filter against the attached IMU until interrupted",
		RunE:  doLive,
	}

	rootCmd.AddCommand(
		replayCmd,
		summaryCmd,
		simCmd,
		liveCmd,
	)
	return rootCmd
}

// loadConfig reads --config, or returns the defaults when it is empty.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}
