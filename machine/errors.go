package machine

import "errors"

var (
	ErrTaskReturned     = errors.New("task entry returned into the exit trap")
	ErrInvalidState     = errors.New("exception return to a frame without the thumb bit")
	ErrInvalidExcReturn = errors.New("invalid EXC_RETURN value")
	ErrNoHandler        = errors.New("no handler installed for exception")
	ErrNoRoutine        = errors.New("no routine mapped at program counter")
	ErrBusFault         = errors.New("bus fault")
	ErrSVCEscalation    = errors.New("supervisor call taken while its priority is masked")
)
