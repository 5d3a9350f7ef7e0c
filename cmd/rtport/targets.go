package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"omibyte.io/rtport/targets"
)

var (
	targetsCmd = &cobra.Command{
		Use:   "targets",
		Short: "List the supported chips",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "SERIES\tCPU\tARCH\tPRIO BITS\tCLOCK\tFEATURES\tPORT\tCHIPS")
			for _, target := range targets.All() {
				status := "ok"
				if err := target.Check(); err != nil {
					status = "no BASEPRI"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d MHz\t%s\t%s\t%s\n",
					target.Series,
					target.Cpu,
					target.Architecture,
					target.PriorityBits,
					target.ClockHz/1000000,
					target.FormatFeatureString(),
					status,
					strings.Join(target.Chips, ","),
				)
			}
			w.Flush()
		},
	}
)
