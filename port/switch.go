package port

import (
	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/scs"
)

// PendSVHandler switches tasks. The hardware has already stacked R0-R3,
// R12, LR, PC and xPSR on the outgoing task's stack.
func (c *Context) PendSVHandler(excReturn uint32) uint32 {
	if c.switching {
		panic(ErrNestedSwitch)
	}
	c.switching = true
	defer func() {
		c.switching = false
	}()

	// Save
	sp := c.p.ProcessStack()
	sp = frame.Push(c.p, sp, c.p.CalleeSaved())
	outgoing := c.current
	outgoing.StackPointer = sp
	c.tracer.SwitchedOut(outgoing)

	// Select
	c.EnterCriticalFromHandler()
	c.sched.SwitchContext()
	c.ExitCriticalFromHandler(0)

	// Restore
	incoming := c.current
	if incoming == nil {
		panic(ErrNoCurrentTask)
	}
	regs, sp := frame.Pop(c.p, incoming.StackPointer)
	c.p.SetCalleeSaved(regs)
	c.p.SetProcessStack(sp)
	c.tracer.SwitchedIn(incoming)
	return excReturn
}

// SysTickHandler advances the scheduler's clock and requests a switch when
// the scheduler asks for one.
func (c *Context) SysTickHandler(excReturn uint32) uint32 {
	prev := c.EnterCriticalFromHandler()
	if c.ticker != nil && c.ticker.Tick() {
		c.Yield()
	}
	c.ExitCriticalFromHandler(prev)
	return excReturn
}

// Yield pends PendSV. It can be called from any context; the switch happens
// once no higher priority code is running.
func (c *Context) Yield() {
	scs.ICSR.Store(c.p, scs.ICSR_PENDSVSET)
}
