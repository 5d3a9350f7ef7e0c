package port

import (
	"fmt"

	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/scs"
)

// excReturnThreadPSP is OR-ed into EXC_RETURN so the first restore lands in
// thread mode on the process stack in Thumb state.
const excReturnThreadPSP = 0xD

// ConfigurePriorities sets PendSV and SysTick to the kernel interrupt
// priority so neither preempts application interrupts.
func (c *Context) ConfigurePriorities() {
	prio := c.cfg.KernelInterruptPriority
	scs.SHPR3.SetByte(c.p, scs.PRI_14, prio)
	scs.SHPR3.SetByte(c.p, scs.PRI_15, prio)
}

// ConfigureTick programs SysTick for the configured tick rate. A zero tick
// rate leaves SysTick alone.
func (c *Context) ConfigureTick() error {
	if c.cfg.TickRateHz == 0 {
		return nil
	}
	reload, err := c.cfg.Reload()
	if err != nil {
		return err
	}

	// Stop and clear the counter before reprogramming it
	scs.SYST_CSR.Store(c.p, 0)
	scs.SYST_CVR.Store(c.p, 0)

	scs.SYST_RVR.Store(c.p, reload)
	scs.SYST_CSR.Store(c.p, scs.SYST_CSR_CLKSOURCE|scs.SYST_CSR_TICKINT|scs.SYST_CSR_ENABLE)
	return nil
}

// StartScheduler configures the kernel exceptions and starts the current
// task. It does not return once the task runs. An error means the core is
// still in the launching context.
func (c *Context) StartScheduler() error {
	switch {
	case c.started:
		return ErrAlreadyStarted
	case c.sched == nil:
		return ErrNoScheduler
	case c.current == nil:
		return ErrNoCurrentTask
	}

	c.ConfigurePriorities()
	if err := c.ConfigureTick(); err != nil {
		return err
	}
	c.started = true

	c.primeFirstRestore()
	c.p.EnableInterrupts()

	// The handler restores the current task in place of this context
	resumed, err := c.p.SupervisorCall(0)
	switch {
	case err != nil:
		c.started = false
		return fmt.Errorf("%w: %w", ErrFirstTaskFailed, err)
	case resumed:
		c.started = false
		return ErrSchedulerReturned
	}
	return nil
}

// primeFirstRestore resets MSP to the value in the vector table. Nothing
// will return to the boot stack.
func (c *Context) primeFirstRestore() {
	vectors := scs.VTOR.Load(c.p)
	c.p.SetMainStack(c.p.LoadWord(vectors))
}

// SVCHandler restores the first task. It runs exactly once.
func (c *Context) SVCHandler(excReturn uint32) uint32 {
	if c.restored {
		panic(ErrSupervisorReentered)
	}
	c.restored = true

	t := c.current
	if t == nil {
		panic(ErrNoCurrentTask)
	}
	regs, sp := frame.Pop(c.p, t.StackPointer)
	c.p.SetCalleeSaved(regs)
	c.p.SetProcessStack(sp)

	c.p.SetBasePriority(0)
	if !c.cfg.PrivilegedTasks {
		c.p.SetUnprivileged()
	}
	c.tracer.SwitchedIn(t)
	return excReturn | excReturnThreadPSP
}
