package trace

import "errors"

var (
	ErrNestedWindow     = errors.New("critical window opened inside another")
	ErrUnbalancedWindow = errors.New("critical window closed without being opened")
	ErrUnbalancedSwitch = errors.New("task switched out twice without a switch in")
	ErrStackMismatch    = errors.New("task resumed from a different stack pointer than it was saved with")
)
