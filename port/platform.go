package port

import "omibyte.io/rtport/frame"

// Platform is the instruction level surface of the core. Everything that
// would be an MRS, MSR, CPS or SVC instruction goes through it; register
// blocks are reached through the memory methods.
type Platform interface {
	frame.Memory

	// ProcessStack reads PSP.
	ProcessStack() uint32
	// SetProcessStack writes PSP followed by an ISB.
	SetProcessStack(sp uint32)
	// SetMainStack writes MSP.
	SetMainStack(sp uint32)

	// CalleeSaved returns R4-R11.
	CalleeSaved() frame.Registers
	// SetCalleeSaved loads R4-R11.
	SetCalleeSaved(regs frame.Registers)

	BasePriority() uint8
	// SetBasePriority writes BASEPRI followed by DSB and ISB.
	SetBasePriority(level uint8)

	// EnableInterrupts clears PRIMASK and FAULTMASK.
	EnableInterrupts()

	// SetUnprivileged sets CONTROL.nPRIV.
	SetUnprivileged()

	// SupervisorCall executes SVC. On hardware it does not return once the
	// first task runs. A simulator returns, reporting whether the exception
	// came back to the context that issued it and any fault that stopped
	// the core on the way.
	SupervisorCall(imm uint8) (resumed bool, err error)

	// ExitTrap returns the address tasks return into. The code there must
	// halt the core.
	ExitTrap() uint32
}

// TaskControlRecord is the part of a task the port owns. Schedulers embed
// it as the first field of their task structure.
type TaskControlRecord struct {
	// StackPointer addresses the task's saved frame.
	StackPointer uint32
}

// Scheduler decides which task runs next. SwitchContext must update the
// current task through Context.SetCurrent.
type Scheduler interface {
	SwitchContext()
}

// Ticker is implemented by schedulers that keep time. Tick reports whether a
// context switch is required.
type Ticker interface {
	Tick() bool
}

// Tracer observes switches and critical sections.
type Tracer interface {
	SwitchedOut(t *TaskControlRecord)
	SwitchedIn(t *TaskControlRecord)
	CriticalEnter(level uint8)
	CriticalExit(level uint8)
}

type nopTracer struct{}

func (nopTracer) SwitchedOut(*TaskControlRecord) {}
func (nopTracer) SwitchedIn(*TaskControlRecord)  {}
func (nopTracer) CriticalEnter(uint8)            {}
func (nopTracer) CriticalExit(uint8)             {}
