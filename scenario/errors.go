package scenario

import "errors"

var (
	ErrNoTasks         = errors.New("scenario has no tasks")
	ErrUnknownBehavior = errors.New("unknown task behavior")
	ErrDuplicateTask   = errors.New("duplicate task name")
	ErrNoSlices        = errors.New("scenario must run at least one slice")
)
