package kernel

import "errors"

var (
	ErrOutOfStack    = errors.New("not enough stack memory for task")
	ErrStackTooSmall = errors.New("task stack smaller than one frame")
	ErrStackTooLarge = errors.New("task stack exceeds the address space")
	ErrNoReadyTask   = errors.New("all tasks are asleep")
	ErrNotStarted    = errors.New("kernel not started")
	ErrLastTask      = errors.New("cannot remove the last task")
)
