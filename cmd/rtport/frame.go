package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"omibyte.io/rtport/config"
	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/machine"
	"omibyte.io/rtport/port"
)

var (
	frameOpts = struct {
		entry uint32
		param uint32
		top   uint32
	}{}

	frameNames = [frame.Words]string{
		"r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11",
		"r0", "r1", "r2", "r3", "r12", "lr", "pc", "xpsr",
	}

	frameCmd = &cobra.Command{
		Use:   "frame",
		Short: "Print the initial frame of a task",
		Long:  "Build the initial stack frame for a task entry point and print it from the lowest address up",
		Run: func(cmd *cobra.Command, args []string) {
			m := machine.New(machine.DefaultConfig())
			ctx := port.NewContext(m, config.Default())

			sp := ctx.InitializeStack(frameOpts.top, frameOpts.entry, frameOpts.param)
			if err := m.Halted(); err != nil {
				log.Fatalf("Failed to build frame: %v", err)
			}

			fmt.Printf("top %#08x sp %#08x (%d bytes)\n", frameOpts.top, sp, frameOpts.top-sp)
			words := frame.Read(m, sp).Words()
			for i, word := range words {
				note := ""
				if i < frame.CalleeWords {
					note = " (not written)"
				}
				fmt.Printf("  %#08x  %-4s %#08x%s\n", frame.Word(sp, i), frameNames[i], word, note)
			}
		},
	}
)

func init() {
	frameCmd.Flags().Uint32Var(&frameOpts.entry, "entry", 0x1001, "task entry point")
	frameCmd.Flags().Uint32Var(&frameOpts.param, "param", 0, "task parameter")
	frameCmd.Flags().Uint32Var(&frameOpts.top, "top", 0x20001000, "top of the task stack")
}
