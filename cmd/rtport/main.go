package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	mainCmd = &cobra.Command{
		Use:   "rtport",
		Short: "Cortex-M context switch port simulator",
		Long: `rtport runs the context switch layer of a preemptive kernel on a simulated
ARMv7-M core. It starts tasks through SVC, switches them in PendSV and
reports what every switch did.`,
		SilenceUsage: true,
	}
)

func init() {
	mainCmd.AddCommand(simulateCmd)
	mainCmd.AddCommand(targetsCmd)
	mainCmd.AddCommand(frameCmd)
}

func main() {
	if err := mainCmd.Execute(); err != nil {
		os.Exit(-1)
	}
}
