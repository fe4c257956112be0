package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
)

type testPlan struct {
	Name     string
	Users    int
	Duration time.Duration
	Scenario string
	RampUp   time.Duration
}

var testPlans = []testPlan{
	{Name: "Light Load", Users: 5, Duration: time.Minute, Scenario: "normal", RampUp: 5 * time.Second},
	{Name: "Editor Cap", Users: 8, Duration: time.Minute, Scenario: "aggressive", RampUp: 5 * time.Second},
	{Name: "Medium Load", Users: 25, Duration: 2 * time.Minute, Scenario: "aggressive", RampUp: 15 * time.Second},
	{Name: "Heavy Load", Users: 50, Duration: 3 * time.Minute, Scenario: "code", RampUp: 30 * time.Second},
	{Name: "Stress Test", Users: 100, Duration: 5 * time.Minute, Scenario: "aggressive", RampUp: time.Minute},
}

// newPlansCmd runs every test plan in turn against one server.
func newPlansCmd() *cobra.Command {
	var (
		serverURL string
		pause     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Run the predefined load plans one after another",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running load plans against: %s\n", serverURL)
			for i, plan := range testPlans {
				fmt.Fprintf(out, "\n=== Running Plan: %s ===\n", plan.Name)
				fmt.Fprintf(out, "Users: %d, Duration: %s, Scenario: %s\n", plan.Users, plan.Duration, plan.Scenario)
				r, err := runSimulation(simulationConfig{
					ServerURL:       serverURL,
					Users:           plan.Users,
					RoomID:          fmt.Sprintf("load_plan_%d_%d", i, time.Now().UnixNano()),
					FilePath:        "main.js",
					Duration:        plan.Duration,
					Scenario:        plan.Scenario,
					RampUp:          plan.RampUp,
					MetricsInterval: 5 * time.Second,
				})
				if err != nil {
					log.Printf("plan %s failed: %v", plan.Name, err)
					continue
				}
				r.Print(out)
				if i < len(testPlans)-1 && pause > 0 {
					fmt.Fprintf(out, "\nWaiting %s before next plan...\n", pause)
					time.Sleep(pause)
				}
			}
			fmt.Fprintln(out, "\n=== All plans completed ===")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().DurationVar(&pause, "pause", 30*time.Second, "pause between plans")
	return cmd
}
