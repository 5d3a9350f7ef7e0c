package config

import "errors"

var (
	ErrZeroCeiling             = errors.New("max syscall interrupt priority masks nothing")
	ErrKernelPriorityNotLowest = errors.New("kernel interrupt priority is not the lowest priority")
	ErrCeilingBelowKernel      = errors.New("max syscall interrupt priority does not outrank the kernel priority")
	ErrReloadOutOfRange        = errors.New("systick reload value out of range")
	ErrInvalidPriorityBits     = errors.New("priority bits must be between 2 and 8")
)
