package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"omibyte.io/rtport/scenario"
)

var (
	simulateOpts = struct {
		slices int
		trace  bool
		strict bool
	}{}

	simulateCmd = &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a task scenario",
		Long:  "Run the tasks described by a scenario file on the simulated core and print the switch history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := scenario.Load(args[0])
			if err != nil {
				log.Fatalf("Failed to load scenario: %v", err)
			}
			if simulateOpts.slices > 0 {
				s.Slices = simulateOpts.slices
			}

			runner, err := scenario.NewRunner(s)
			if err != nil {
				log.Fatalf("Failed to set up scenario %s: %v", s.Name, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			res, err := runner.Run(ctx)
			if err != nil {
				log.Fatalf("Simulation interrupted: %v", err)
			}
			if err = res.Write(os.Stdout); err != nil {
				log.Fatalf("Failed to write result: %v", err)
			}
			if simulateOpts.trace {
				fmt.Println()
				if err = res.WriteTrace(os.Stdout); err != nil {
					log.Fatalf("Failed to write trace: %v", err)
				}
			}

			if res.Verify != nil {
				log.Fatalf("Trace verification failed: %v", res.Verify)
			}
			if simulateOpts.strict && res.Halted != nil {
				log.Fatalf("Core halted: %v", res.Halted)
			}
		},
	}
)

func init() {
	simulateCmd.Flags().IntVarP(&simulateOpts.slices, "slices", "n", 0, "number of time slices to run (overrides the scenario)")
	simulateCmd.Flags().BoolVar(&simulateOpts.trace, "trace", false, "print every port and core event")
	simulateCmd.Flags().BoolVar(&simulateOpts.strict, "strict", false, "exit with an error if the core halts")
}
