package port

import "errors"

var (
	ErrNoScheduler         = errors.New("no scheduler attached")
	ErrNoCurrentTask       = errors.New("no current task")
	ErrAlreadyStarted      = errors.New("scheduler already started")
	ErrSchedulerReturned   = errors.New("supervisor call returned to the launching context")
	ErrFirstTaskFailed     = errors.New("core faulted while starting the first task")
	ErrSupervisorReentered = errors.New("first task restore ran twice")
	ErrNestedSwitch        = errors.New("context switch handler re-entered")
)
