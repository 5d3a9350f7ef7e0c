// Package machine simulates the parts of an ARMv7-M core that a context
// switch depends on: banked stack pointers, the exception entry and return
// sequences, priority based preemption, BASEPRI/PRIMASK masking and the
// System Control Space registers that pend and prioritise exceptions.
//
// Thread mode code is modelled as routines mapped at code addresses. A
// routine runs for one time slice whenever the program counter points at it.
package machine

import (
	"context"
	"fmt"

	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/scs"
)

type Mode uint8

const (
	ModeThread Mode = iota
	ModeHandler
)

func (m Mode) String() string {
	if m == ModeHandler {
		return "handler"
	}
	return "thread"
}

const (
	controlNPRIV uint32 = 1 << 0
	controlSPSEL uint32 = 1 << 1
)

const (
	// ResetAddress is where the reset vector points.
	ResetAddress uint32 = 0x00000101

	// ExitTrapAddress holds the routine a task lands in when its entry
	// function returns.
	ExitTrapAddress uint32 = 0x00000201
)

// Handler is an exception handler. It receives the EXC_RETURN value the core
// placed in LR and returns the value to branch to.
type Handler func(excReturn uint32) uint32

// Routine is thread mode code.
type Routine func(m *Machine)

// Config describes the simulated memory map.
type Config struct {
	FlashBase    uint32
	FlashSize    uint32
	RAMBase      uint32
	RAMSize      uint32
	PriorityBits uint8
}

// DefaultConfig matches a SAMD51J19A.
func DefaultConfig() Config {
	return Config{
		FlashBase:    0x00000000,
		FlashSize:    0x80000,
		RAMBase:      0x20000000,
		RAMSize:      0x30000,
		PriorityBits: 3,
	}
}

type Machine struct {
	cfg          Config
	regions      []*region
	priorityMask uint8

	R    [13]uint32
	LR   uint32
	PC   uint32
	XPSR uint32

	msp       uint32
	psp       uint32
	basepri   uint8
	primask   bool
	faultmask bool
	control   uint32
	mode      Mode

	active  []Exception
	pending [maxException]bool

	vtor uint32
	shpr [3]uint32
	nvic struct {
		enabled  uint32
		priority [scs.NumIRQ]uint8
	}
	syst struct {
		csr uint32
		rvr uint32
		cvr uint32
	}

	vectors  map[Exception]Handler
	routines map[uint32]Routine
	observer func(Event)

	halted error
	slices uint64
}

// New creates a core and resets it. The initial main stack pointer is the top
// of RAM.
func New(cfg Config) *Machine {
	m := &Machine{
		cfg:          cfg,
		priorityMask: scs.PriorityMask(cfg.PriorityBits),
		vectors:      map[Exception]Handler{},
		routines:     map[uint32]Routine{},
	}
	flash := newRegion("flash", cfg.FlashBase, cfg.FlashSize)
	ram := newRegion("ram", cfg.RAMBase, cfg.RAMSize)
	m.regions = []*region{flash, ram}

	// Vector table: initial MSP followed by the reset vector
	flash.words[0] = ram.end()
	flash.words[1] = ResetAddress

	m.Map(ExitTrapAddress, exitTrap)
	m.Reset()
	return m
}

// exitTrap is where a task lands if its entry function returns.
func exitTrap(m *Machine) {
	m.primask = true
	m.lockup(ErrTaskReturned)
}

// Reset puts the core into its power-on state. Memory contents, routines and
// installed handlers survive a reset.
func (m *Machine) Reset() {
	m.R = [13]uint32{}
	m.basepri = 0
	m.primask = false
	m.faultmask = false
	m.control = 0
	m.mode = ModeThread
	m.active = nil
	m.pending = [maxException]bool{}
	m.shpr = [3]uint32{}
	m.nvic.enabled = 0
	m.nvic.priority = [scs.NumIRQ]uint8{}
	m.syst.csr, m.syst.rvr, m.syst.cvr = 0, 0, 0
	m.halted = nil
	m.slices = 0

	m.vtor = m.cfg.FlashBase
	m.msp = m.LoadWord(m.vtor)
	m.psp = 0
	m.LR = 0xFFFFFFFF
	m.PC = m.LoadWord(m.vtor+4) &^ 1
	m.XPSR = frame.ThumbBit
}

// Map places a routine at a code address. Bit 0 of addr is ignored.
func (m *Machine) Map(addr uint32, r Routine) {
	m.routines[addr&^1] = r
}

// SetHandler installs an exception handler in the vector table.
func (m *Machine) SetHandler(exc Exception, h Handler) {
	m.vectors[exc] = h
}

// Observe registers a callback for core events.
func (m *Machine) Observe(fn func(Event)) {
	m.observer = fn
}

func (m *Machine) observe(e Event) {
	if m.observer != nil {
		m.observer(e)
	}
}

// Halted returns the error that locked the core up, if any.
func (m *Machine) Halted() error {
	return m.halted
}

func (m *Machine) lockup(err error) {
	if m.halted != nil {
		return
	}
	m.halted = err
	m.observe(Event{Kind: EventLockup, Err: err})
}

// Mode returns the current execution mode.
func (m *Machine) Mode() Mode {
	return m.mode
}

// Privileged reports whether thread mode runs privileged.
func (m *Machine) Privileged() bool {
	return m.control&controlNPRIV == 0
}

// UsingProcessStack reports whether the active stack is the process stack.
func (m *Machine) UsingProcessStack() bool {
	return m.mode == ModeThread && m.control&controlSPSEL != 0
}

// ActiveExceptions returns the exceptions currently being handled, oldest
// first.
func (m *Machine) ActiveExceptions() []Exception {
	return append([]Exception(nil), m.active...)
}

// Slices returns the number of time slices run since reset.
func (m *Machine) Slices() uint64 {
	return m.slices
}

func (m *Machine) sp() uint32 {
	if m.UsingProcessStack() {
		return m.psp
	}
	return m.msp
}

func (m *Machine) setSP(sp uint32) {
	if m.UsingProcessStack() {
		m.psp = sp
	} else {
		m.msp = sp
	}
}

func (m *Machine) ProcessStack() uint32 {
	return m.psp
}

func (m *Machine) SetProcessStack(sp uint32) {
	m.psp = sp
}

func (m *Machine) MainStack() uint32 {
	return m.msp
}

func (m *Machine) SetMainStack(sp uint32) {
	m.msp = sp
}

func (m *Machine) CalleeSaved() frame.Registers {
	var w [frame.CalleeWords]uint32
	copy(w[:], m.R[4:12])
	return frame.RegistersFromWords(w)
}

func (m *Machine) SetCalleeSaved(regs frame.Registers) {
	w := regs.Words()
	copy(m.R[4:12], w[:])
}

func (m *Machine) BasePriority() uint8 {
	return m.basepri
}

// SetBasePriority writes BASEPRI. Only implemented priority bits are kept.
func (m *Machine) SetBasePriority(level uint8) {
	m.basepri = level & m.priorityMask
	m.dispatch()
}

// EnableInterrupts clears PRIMASK and FAULTMASK.
func (m *Machine) EnableInterrupts() {
	m.primask = false
	m.faultmask = false
	m.dispatch()
}

// DisableInterrupts sets PRIMASK.
func (m *Machine) DisableInterrupts() {
	m.primask = true
}

// InterruptsEnabled reports whether PRIMASK is clear.
func (m *Machine) InterruptsEnabled() bool {
	return !m.primask
}

// SetUnprivileged sets CONTROL.nPRIV so thread mode drops privilege.
func (m *Machine) SetUnprivileged() {
	m.control |= controlNPRIV
}

// ExitTrap returns the address of the routine that halts the core.
func (m *Machine) ExitTrap() uint32 {
	return ExitTrapAddress
}

// SupervisorCall executes SVC. It reports whether the exception returned to
// the calling context rather than handing the core to another one. A core
// that is or becomes locked up returns the lockup reason.
func (m *Machine) SupervisorCall(imm uint8) (resumed bool, err error) {
	if m.halted != nil {
		return false, m.halted
	}
	if m.priority(SVCall) >= m.executionPriority() {
		m.lockup(ErrSVCEscalation)
		return false, m.halted
	}
	mode, sp, control := m.mode, m.sp(), m.control&controlSPSEL
	m.observe(Event{Kind: EventSVC, Exception: SVCall, Imm: imm})
	m.enter(SVCall)
	m.dispatch()
	if m.halted != nil {
		return false, m.halted
	}
	return m.mode == mode && m.control&controlSPSEL == control && m.sp() == sp, nil
}

// Step runs the routine at PC for one time slice, then advances SysTick by a
// full reload period.
func (m *Machine) Step() error {
	if m.halted != nil {
		return m.halted
	}
	r, ok := m.routines[m.PC&^1]
	if !ok {
		m.lockup(fmt.Errorf("%w: %#08x", ErrNoRoutine, m.PC))
		return m.halted
	}
	m.slices++
	r(m)
	if m.halted != nil {
		return m.halted
	}
	m.tick()
	return m.halted
}

// Run steps the core n times or until it locks up or ctx is done.
func (m *Machine) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) tick() {
	csr := m.syst.csr
	if csr&scs.SYST_CSR_ENABLE == 0 {
		return
	}
	m.syst.cvr = m.syst.rvr
	m.syst.csr |= scs.SYST_CSR_COUNTFLAG
	if csr&scs.SYST_CSR_TICKINT != 0 {
		m.pend(SysTick)
		m.dispatch()
	}
}
