package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := simulationConfig{}
	rootCmd := &cobra.Command{
		Use:          "collabload",
		Short:        "Simulate many users editing one file in a collaboration room",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.RoomID == "" {
				cfg.RoomID = fmt.Sprintf("load_room_%d", time.Now().UnixNano())
			}
			r, err := runSimulation(cfg)
			if err != nil {
				return err
			}
			r.Print(cmd.OutOrStdout())
			return nil
		},
	}
	f := rootCmd.Flags()
	f.StringVar(&cfg.ServerURL, "server", "http://localhost:8080", "server URL")
	f.IntVar(&cfg.Users, "users", 10, "number of simulated users")
	f.StringVar(&cfg.RoomID, "room", "", "room id (empty for a new room)")
	f.StringVar(&cfg.FilePath, "file", "main.js", "file every user edits")
	f.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "test duration")
	f.StringVar(&cfg.Scenario, "scenario", "normal", "scenario (normal, aggressive, code, review)")
	f.DurationVar(&cfg.RampUp, "rampup", 10*time.Second, "ramp up time")
	f.DurationVar(&cfg.MetricsInterval, "metrics", 5*time.Second, "metrics reporting interval")

	rootCmd.AddCommand(newPlansCmd())
	return rootCmd
}
