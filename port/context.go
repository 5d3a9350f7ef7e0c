// Package port is the context switch layer of a preemptive kernel on
// ARMv7-M. It builds initial task frames, starts the first task through SVC
// and switches tasks in PendSV, asking an external scheduler which task to
// run next.
package port

import (
	"omibyte.io/rtport/config"
)

// Context is the per-core scheduler state shared by the exception handlers.
type Context struct {
	p      Platform
	cfg    config.Config
	sched  Scheduler
	ticker Ticker
	tracer Tracer

	current *TaskControlRecord

	started    bool
	restored   bool
	switching  bool
	inCritical bool
}

// NewContext binds the port to a core. PendSV and SysTick are moved to the
// kernel priority and BASEPRI is raised to the syscall ceiling, so a switch
// requested before the first task runs stays pending until SVCHandler
// clears the mask.
func NewContext(p Platform, cfg config.Config) *Context {
	c := &Context{
		p:      p,
		cfg:    cfg,
		tracer: nopTracer{},
	}
	c.ConfigurePriorities()
	c.p.SetBasePriority(cfg.MaxSyscallInterruptPriority)
	return c
}

// Attach sets the scheduler consulted on every switch. If it also
// implements Ticker it receives the SysTick callbacks.
func (c *Context) Attach(s Scheduler) {
	c.sched = s
	c.ticker, _ = s.(Ticker)
}

// Trace installs a tracer. A nil tracer disables tracing.
func (c *Context) Trace(t Tracer) {
	if t == nil {
		t = nopTracer{}
	}
	c.tracer = t
}

// Current returns the task that owns the core.
func (c *Context) Current() *TaskControlRecord {
	return c.current
}

// SetCurrent changes the current task. Before the scheduler starts it picks
// the first task; afterwards only Scheduler.SwitchContext may call it.
func (c *Context) SetCurrent(t *TaskControlRecord) {
	c.current = t
}

// Started reports whether StartScheduler handed the core to a task.
func (c *Context) Started() bool {
	return c.started
}

// Config returns the configuration the port was created with.
func (c *Context) Config() config.Config {
	return c.cfg
}

// Handlers returns the exception entry points to place in the vector table.
func (c *Context) Handlers() (svc, pendSV, sysTick func(excReturn uint32) uint32) {
	return c.SVCHandler, c.PendSVHandler, c.SysTickHandler
}
