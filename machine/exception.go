package machine

import (
	"fmt"

	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/scs"
)

// Exception is an exception number as found in IPSR.
type Exception uint8

const (
	Reset        Exception = 1
	NMI          Exception = 2
	HardFault    Exception = 3
	MemManage    Exception = 4
	BusFault     Exception = 5
	UsageFault   Exception = 6
	SVCall       Exception = 11
	DebugMonitor Exception = 12
	PendSV       Exception = 14
	SysTick      Exception = 15

	irqBase      = 16
	maxException = irqBase + scs.NumIRQ
)

// IRQ returns the exception number of external interrupt n.
func IRQ(n int) Exception {
	return Exception(irqBase + n)
}

func (e Exception) String() string {
	switch e {
	case Reset:
		return "Reset"
	case NMI:
		return "NMI"
	case HardFault:
		return "HardFault"
	case MemManage:
		return "MemManage"
	case BusFault:
		return "BusFault"
	case UsageFault:
		return "UsageFault"
	case SVCall:
		return "SVCall"
	case DebugMonitor:
		return "DebugMonitor"
	case PendSV:
		return "PendSV"
	case SysTick:
		return "SysTick"
	}
	if e >= irqBase {
		return fmt.Sprintf("IRQ%d", int(e)-irqBase)
	}
	return fmt.Sprintf("Exception%d", int(e))
}

// EXC_RETURN values
const (
	ExcReturnHandlerMSP uint32 = 0xFFFFFFF1
	ExcReturnThreadMSP  uint32 = 0xFFFFFFF9
	ExcReturnThreadPSP  uint32 = 0xFFFFFFFD

	excReturnPrefix uint32 = 0xFFFFFFF0
)

// priority returns the group priority of an exception. Fixed priorities are
// negative.
func (m *Machine) priority(e Exception) int {
	switch e {
	case Reset:
		return -3
	case NMI:
		return -2
	case HardFault:
		return -1
	case MemManage:
		return int(uint8(m.shpr[0]))
	case BusFault:
		return int(uint8(m.shpr[0] >> 8))
	case UsageFault:
		return int(uint8(m.shpr[0] >> 16))
	case SVCall:
		return int(uint8(m.shpr[1] >> scs.PRI_11))
	case DebugMonitor:
		return int(uint8(m.shpr[2]))
	case PendSV:
		return int(uint8(m.shpr[2] >> scs.PRI_14))
	case SysTick:
		return int(uint8(m.shpr[2] >> scs.PRI_15))
	}
	if e >= irqBase && int(e) < maxException {
		return int(m.nvic.priority[int(e)-irqBase])
	}
	return 256
}

// Priority returns the configured priority of exception e.
func (m *Machine) Priority(e Exception) int {
	return m.priority(e)
}

// executionPriority is the priority an exception has to beat to preempt.
func (m *Machine) executionPriority() int {
	prio := 256
	for _, e := range m.active {
		if p := m.priority(e); p < prio {
			prio = p
		}
	}
	if m.basepri != 0 && int(m.basepri) < prio {
		prio = int(m.basepri)
	}
	if m.primask && prio > 0 {
		prio = 0
	}
	if m.faultmask && prio > -1 {
		prio = -1
	}
	return prio
}

// Pending reports whether e is pending.
func (m *Machine) Pending(e Exception) bool {
	return m.pending[e]
}

// pend marks e pending. Pending an already pending exception has no further
// effect, so repeated requests collapse into a single activation.
func (m *Machine) pend(e Exception) {
	if m.pending[e] {
		return
	}
	m.pending[e] = true
	m.observe(Event{Kind: EventPend, Exception: e})
}

func (m *Machine) enabled(e Exception) bool {
	if e < irqBase {
		return true
	}
	return m.nvic.enabled&(1<<(int(e)-irqBase)) != 0
}

func (m *Machine) nextPending() (Exception, bool) {
	var (
		best     Exception
		bestPrio = 257
	)
	for i := range m.pending {
		e := Exception(i)
		if !m.pending[i] || !m.enabled(e) {
			continue
		}
		if p := m.priority(e); p < bestPrio {
			best, bestPrio = e, p
		}
	}
	if bestPrio < m.executionPriority() {
		return best, true
	}
	return 0, false
}

// dispatch takes every pending exception that can preempt the current
// execution priority.
func (m *Machine) dispatch() {
	for m.halted == nil {
		e, ok := m.nextPending()
		if !ok {
			return
		}
		m.enter(e)
	}
}

// enter performs exception entry, runs the handler and returns from it.
func (m *Machine) enter(e Exception) {
	h, ok := m.vectors[e]
	if !ok {
		m.lockup(fmt.Errorf("%w: %s", ErrNoHandler, e))
		return
	}

	sp := frame.PushHardware(m, m.sp(), frame.HardwareFrame{
		R0:  m.R[0],
		R1:  m.R[1],
		R2:  m.R[2],
		R3:  m.R[3],
		R12: m.R[12],
		LR:  m.LR,
		PC:  m.PC,
		PSR: m.XPSR,
	})
	m.setSP(sp)

	var excReturn uint32
	switch {
	case m.mode == ModeHandler:
		excReturn = ExcReturnHandlerMSP
	case m.control&controlSPSEL != 0:
		excReturn = ExcReturnThreadPSP
	default:
		excReturn = ExcReturnThreadMSP
	}

	m.pending[e] = false
	m.active = append(m.active, e)
	m.mode = ModeHandler
	m.control &^= controlSPSEL
	m.LR = excReturn
	m.XPSR = (m.XPSR &^ scs.ICSR_VECTACTIVE) | uint32(e)
	m.observe(Event{Kind: EventEnter, Exception: e, StackPointer: sp})

	m.exceptionReturn(e, h(excReturn))
}

// exceptionReturn performs the BX LR with an EXC_RETURN value.
func (m *Machine) exceptionReturn(e Exception, excReturn uint32) {
	if m.halted != nil {
		return
	}
	if excReturn&excReturnPrefix != excReturnPrefix {
		m.lockup(fmt.Errorf("%w: %#08x", ErrInvalidExcReturn, excReturn))
		return
	}

	var toThread, usePSP bool
	switch excReturn & 0xF {
	case 0x1:
	case 0x9:
		toThread = true
	case 0xD:
		toThread, usePSP = true, true
	default:
		m.lockup(fmt.Errorf("%w: %#08x", ErrInvalidExcReturn, excReturn))
		return
	}

	m.active = m.active[:len(m.active)-1]
	if toThread != (len(m.active) == 0) {
		m.lockup(fmt.Errorf("%w: %#08x with %d active", ErrInvalidExcReturn, excReturn, len(m.active)))
		return
	}

	var sp uint32
	if usePSP {
		sp = m.psp
	} else {
		sp = m.msp
	}
	hw, sp := frame.PopHardware(m, sp)
	if usePSP {
		m.psp = sp
	} else {
		m.msp = sp
	}

	if toThread {
		m.mode = ModeThread
		if usePSP {
			m.control |= controlSPSEL
		} else {
			m.control &^= controlSPSEL
		}
	}

	m.R[0], m.R[1], m.R[2], m.R[3], m.R[12] = hw.R0, hw.R1, hw.R2, hw.R3, hw.R12
	m.LR = hw.LR
	m.PC = hw.PC
	m.XPSR = hw.PSR
	m.observe(Event{Kind: EventReturn, Exception: e, StackPointer: sp, ExcReturn: excReturn})

	if !hw.Thumb() {
		m.lockup(fmt.Errorf("%w: pc=%#08x xpsr=%#08x", ErrInvalidState, hw.PC, hw.PSR))
	}
}
