package port

// EnterCriticalFromHandler raises BASEPRI to the syscall ceiling and returns
// the previous mask.
func (c *Context) EnterCriticalFromHandler() uint8 {
	prev := c.p.BasePriority()
	level := c.cfg.MaxSyscallInterruptPriority
	c.p.SetBasePriority(level)
	c.inCritical = true
	c.tracer.CriticalEnter(level)
	return prev
}

// ExitCriticalFromHandler restores the mask returned by
// EnterCriticalFromHandler.
func (c *Context) ExitCriticalFromHandler(prev uint8) {
	c.inCritical = false
	c.p.SetBasePriority(prev)
	c.tracer.CriticalExit(prev)
}

// InCritical reports whether a handler critical section is open.
func (c *Context) InCritical() bool {
	return c.inCritical
}
