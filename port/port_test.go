package port

import (
	"errors"
	"testing"

	"omibyte.io/rtport/config"
	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/machine"
)

const (
	topA   uint32 = 0x20001000
	topB   uint32 = 0x20002000
	topC   uint32 = 0x20003000
	entryA uint32 = 0x00000401
	entryB uint32 = 0x00000501
	entryC uint32 = 0x00000601
)

func newTestCore(t *testing.T) (*machine.Machine, *Context) {
	t.Helper()
	m := machine.New(machine.DefaultConfig())
	c := NewContext(m, config.Default())
	svc, pendSV, sysTick := c.Handlers()
	m.SetHandler(machine.SVCall, svc)
	m.SetHandler(machine.PendSV, pendSV)
	m.SetHandler(machine.SysTick, sysTick)
	return m, c
}

// ring selects tasks in order and counts how often it was asked.
type ring struct {
	ctx   *Context
	tasks []*TaskControlRecord
	calls int
	ticks int
	tick  bool
}

func (r *ring) SwitchContext() {
	r.calls++
	for i, t := range r.tasks {
		if t == r.ctx.Current() {
			r.ctx.SetCurrent(r.tasks[(i+1)%len(r.tasks)])
			return
		}
	}
}

func (r *ring) Tick() bool {
	r.ticks++
	return r.tick
}

// depthTracer fails the test if a critical section opens inside another.
type depthTracer struct {
	t        *testing.T
	depth    int
	enters   int
	switches []*TaskControlRecord
}

func (d *depthTracer) SwitchedOut(*TaskControlRecord) {}

func (d *depthTracer) SwitchedIn(t *TaskControlRecord) {
	d.switches = append(d.switches, t)
}

func (d *depthTracer) CriticalEnter(uint8) {
	d.depth++
	d.enters++
	if d.depth > 1 {
		d.t.Errorf("critical section nested to depth %d", d.depth)
	}
}

func (d *depthTracer) CriticalExit(uint8) {
	d.depth--
}

func startTasks(t *testing.T, m *machine.Machine, c *Context, tops, entries []uint32) (*ring, []*TaskControlRecord) {
	t.Helper()
	r := &ring{ctx: c}
	for i := range tops {
		tcb := &TaskControlRecord{}
		tcb.StackPointer = c.InitializeStack(tops[i], entries[i], uint32(0xA0+i))
		r.tasks = append(r.tasks, tcb)
		m.Map(entries[i], func(*machine.Machine) {})
	}
	c.SetCurrent(r.tasks[0])
	c.Attach(r)
	if err := c.StartScheduler(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r, r.tasks
}

func TestInitializeStack(t *testing.T) {
	m, c := newTestCore(t)

	sp := c.InitializeStack(topA, entryA, 0x1234)
	if sp != topA-frame.Size {
		t.Fatalf("expected stack pointer %#x, got %#x", topA-frame.Size, sp)
	}

	f := frame.Read(m, sp)
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"xPSR", f.PSR, frame.InitialXPSR},
		{"PC", f.PC, entryA &^ 1},
		{"LR", f.LR, machine.ExitTrapAddress},
		{"R12", f.R12, 0},
		{"R3", f.R3, 0},
		{"R2", f.R2, 0},
		{"R1", f.R1, 0},
		{"R0", f.R0, 0x1234},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("expected %#x, got %#x", tc.want, tc.got)
			}
		})
	}
}

func TestInitializeStackLeavesCalleeRegion(t *testing.T) {
	m, c := newTestCore(t)

	for i := uint32(0); i < frame.CalleeWords; i++ {
		m.StoreWord(topA-frame.Size+i*frame.WordSize, 0xDEAD0000+i)
	}
	sp := c.InitializeStack(topA, entryA, 0)
	for i := uint32(0); i < frame.CalleeWords; i++ {
		if v := m.LoadWord(sp + i*frame.WordSize); v != 0xDEAD0000+i {
			t.Errorf("word %d was overwritten with %#x", i, v)
		}
	}
}

func TestFirstTaskLoad(t *testing.T) {
	m, c := newTestCore(t)

	var svcEntries int
	m.Observe(func(e machine.Event) {
		if e.Kind == machine.EventEnter && e.Exception == machine.SVCall {
			svcEntries++
		}
	})

	tcb := &TaskControlRecord{StackPointer: c.InitializeStack(topA, entryA, 0x1234)}
	c.SetCurrent(tcb)
	c.Attach(&ring{ctx: c, tasks: []*TaskControlRecord{tcb}})

	if err := c.StartScheduler(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svcEntries != 1 {
		t.Errorf("expected one supervisor call, got %d", svcEntries)
	}
	if m.PC != entryA&^1 {
		t.Errorf("expected PC %#x, got %#x", entryA&^1, m.PC)
	}
	if m.R[0] != 0x1234 {
		t.Errorf("expected R0 0x1234, got %#x", m.R[0])
	}
	if m.XPSR&frame.ThumbBit == 0 {
		t.Error("expected thumb bit set")
	}
	if m.LR != machine.ExitTrapAddress {
		t.Errorf("expected LR to be the exit trap, got %#x", m.LR)
	}
	if m.Mode() != machine.ModeThread || !m.UsingProcessStack() || m.Privileged() {
		t.Errorf("expected unprivileged thread mode on the process stack, got %s privileged=%v psp=%v",
			m.Mode(), m.Privileged(), m.UsingProcessStack())
	}
	if m.ProcessStack() != topA {
		t.Errorf("expected PSP %#x, got %#x", topA, m.ProcessStack())
	}
	if m.BasePriority() != 0 {
		t.Errorf("expected BASEPRI cleared, got %#x", m.BasePriority())
	}
	// The launching context's frame is abandoned below the reset value
	if m.MainStack() != 0x20030000-frame.HardwareSize {
		t.Errorf("expected MSP reset to the vector table value, got %#x", m.MainStack())
	}
	if !c.Started() {
		t.Error("expected scheduler started")
	}
}

func TestStartSchedulerPreconditions(t *testing.T) {
	m, c := newTestCore(t)
	if err := c.StartScheduler(); !errors.Is(err, ErrNoScheduler) {
		t.Errorf("expected ErrNoScheduler, got %v", err)
	}

	c.Attach(&ring{ctx: c})
	if err := c.StartScheduler(); !errors.Is(err, ErrNoCurrentTask) {
		t.Errorf("expected ErrNoCurrentTask, got %v", err)
	}

	startTasks(t, m, c, []uint32{topA}, []uint32{entryA})
	if err := c.StartScheduler(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStartSchedulerReturned(t *testing.T) {
	m, c := newTestCore(t)

	// A handler that resumes the caller instead of restoring a task
	m.SetHandler(machine.SVCall, func(excReturn uint32) uint32 { return excReturn })

	tcb := &TaskControlRecord{StackPointer: c.InitializeStack(topA, entryA, 0)}
	c.SetCurrent(tcb)
	c.Attach(&ring{ctx: c, tasks: []*TaskControlRecord{tcb}})
	if err := c.StartScheduler(); !errors.Is(err, ErrSchedulerReturned) {
		t.Errorf("expected ErrSchedulerReturned, got %v", err)
	}
}

func TestStartSchedulerFault(t *testing.T) {
	m, c := newTestCore(t)
	m.SetHandler(machine.SVCall, func(uint32) uint32 { return 0x1234 })

	tcb := &TaskControlRecord{StackPointer: c.InitializeStack(topA, entryA, 0)}
	c.SetCurrent(tcb)
	c.Attach(&ring{ctx: c, tasks: []*TaskControlRecord{tcb}})

	err := c.StartScheduler()
	if !errors.Is(err, ErrFirstTaskFailed) {
		t.Errorf("expected ErrFirstTaskFailed, got %v", err)
	}
	if !errors.Is(err, machine.ErrInvalidExcReturn) {
		t.Errorf("expected the core fault to be wrapped, got %v", err)
	}
	if c.Started() {
		t.Error("expected scheduler not started")
	}
}

func TestYieldBeforeStart(t *testing.T) {
	m, c := newTestCore(t)

	tcb := &TaskControlRecord{StackPointer: c.InitializeStack(topA, entryA, 0x55)}
	m.Map(entryA, func(*machine.Machine) {})
	sp := tcb.StackPointer
	r := &ring{ctx: c, tasks: []*TaskControlRecord{tcb}}
	c.SetCurrent(tcb)
	c.Attach(r)

	c.Yield()
	if r.calls != 0 {
		t.Fatalf("switch ran before the scheduler started")
	}
	if tcb.StackPointer != sp {
		t.Errorf("expected stack pointer %#x, got %#x", sp, tcb.StackPointer)
	}
	if err := m.Halted(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.StartScheduler(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The pended request is taken once the first task owns the core
	if r.calls != 1 {
		t.Errorf("expected 1 deferred switch, got %d", r.calls)
	}
	if tcb.StackPointer != sp {
		t.Errorf("expected stack pointer %#x after the switch, got %#x", sp, tcb.StackPointer)
	}
	if m.PC != entryA&^1 || m.R[0] != 0x55 {
		t.Errorf("expected the task to start at %#x with R0 0x55, got PC %#x R0 %#x", entryA&^1, m.PC, m.R[0])
	}
	if m.ProcessStack() != topA {
		t.Errorf("expected PSP %#x, got %#x", topA, m.ProcessStack())
	}
	if err := m.Step(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSupervisorRestoreOnce(t *testing.T) {
	m, c := newTestCore(t)
	startTasks(t, m, c, []uint32{topA}, []uint32{entryA})

	defer func() {
		if r := recover(); r != ErrSupervisorReentered {
			t.Errorf("expected ErrSupervisorReentered panic, got %v", r)
		}
	}()
	c.SVCHandler(machine.ExcReturnThreadMSP)
}

func TestConfigurePriorities(t *testing.T) {
	m, c := newTestCore(t)

	// Application interrupts at assorted priorities
	for i := 0; i < 8; i++ {
		m.StoreWord(0xE000E400+uint32(i)*4, 0x20406080)
	}

	c.ConfigurePriorities()
	c.ConfigurePriorities()

	mask := int(c.Config().PriorityMask())
	for _, e := range []machine.Exception{machine.PendSV, machine.SysTick} {
		if p := m.Priority(e); p != mask {
			t.Errorf("expected %s priority %#x, got %#x", e, mask, p)
		}
	}
	for i := 0; i < 32; i++ {
		if p := m.Priority(machine.IRQ(i)); p > m.Priority(machine.PendSV) {
			t.Errorf("IRQ%d priority %#x is lower than PendSV", i, p)
		}
	}
}

func TestAlternatingSwitches(t *testing.T) {
	m, c := newTestCore(t)

	var entrySP []uint32
	m.Observe(func(e machine.Event) {
		if e.Kind == machine.EventEnter && e.Exception == machine.PendSV {
			entrySP = append(entrySP, e.StackPointer)
		}
	})

	r, tasks := startTasks(t, m, c, []uint32{topA, topB}, []uint32{entryA, entryB})
	a, b := tasks[0], tasks[1]

	// Task A leaves a recognisable register image behind
	for i := range m.R {
		m.R[i] = 0xA000 + uint32(i)
	}
	savedR, savedLR, savedPC, savedPSR := m.R, m.LR, m.PC, m.XPSR

	c.Yield()
	if c.Current() != b {
		t.Fatalf("expected B after the first switch")
	}
	if a.StackPointer != entrySP[0]-frame.CalleeSize {
		t.Errorf("expected A saved at %#x, got %#x", entrySP[0]-frame.CalleeSize, a.StackPointer)
	}
	if m.PC != entryB&^1 || m.R[0] != 0xA1 || m.ProcessStack() != topB {
		t.Errorf("unexpected B state: pc=%#x r0=%#x psp=%#x", m.PC, m.R[0], m.ProcessStack())
	}

	// Task B scribbles over everything
	for i := range m.R {
		m.R[i] = 0xB000 + uint32(i)
	}

	c.Yield()
	if c.Current() != a {
		t.Fatalf("expected A after the second switch")
	}
	if b.StackPointer != entrySP[1]-frame.CalleeSize {
		t.Errorf("expected B saved at %#x, got %#x", entrySP[1]-frame.CalleeSize, b.StackPointer)
	}
	if m.ProcessStack() != topA {
		t.Errorf("expected PSP %#x after restoring A, got %#x", topA, m.ProcessStack())
	}
	if m.R != savedR || m.LR != savedLR || m.PC != savedPC || m.XPSR != savedPSR {
		t.Errorf("A did not round trip:\n got  %x lr=%#x pc=%#x xpsr=%#x\n want %x lr=%#x pc=%#x xpsr=%#x",
			m.R, m.LR, m.PC, m.XPSR, savedR, savedLR, savedPC, savedPSR)
	}
	if r.calls != 2 {
		t.Errorf("expected 2 selections, got %d", r.calls)
	}
}

func TestSwitchSequence(t *testing.T) {
	for n := 1; n <= 7; n++ {
		m, c := newTestCore(t)
		_, tasks := startTasks(t, m, c,
			[]uint32{topA, topB, topC},
			[]uint32{entryA, entryB, entryC})

		for i := 0; i < n; i++ {
			c.Yield()
		}
		if want := tasks[n%3]; c.Current() != want {
			t.Errorf("after %d switches expected task %d", n, n%3)
		}
	}
}

func TestPendCoalesces(t *testing.T) {
	m, c := newTestCore(t)
	r, _ := startTasks(t, m, c, []uint32{topA, topB}, []uint32{entryA, entryB})

	// Mask PendSV so the requests stay pending
	m.SetBasePriority(0x20)
	c.Yield()
	c.Yield()
	c.Yield()
	if r.calls != 0 {
		t.Fatalf("switch ran while masked")
	}
	m.SetBasePriority(0)
	if r.calls != 1 {
		t.Errorf("expected pended requests to coalesce into 1 switch, got %d", r.calls)
	}
}

func TestCriticalWindowDoesNotNest(t *testing.T) {
	m, c := newTestCore(t)
	tr := &depthTracer{t: t}
	c.Trace(tr)

	r, _ := startTasks(t, m, c, []uint32{topA, topB, topC}, []uint32{entryA, entryB, entryC})
	r.tick = true

	for i := 0; i < 6; i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if r.ticks != 6 || r.calls != 6 {
		t.Errorf("expected 6 ticks and 6 switches, got %d and %d", r.ticks, r.calls)
	}
	// One window per tick and one per switch
	if tr.enters != 12 {
		t.Errorf("expected 12 critical sections, got %d", tr.enters)
	}
	if tr.depth != 0 {
		t.Errorf("critical section left open")
	}
	if c.InCritical() {
		t.Errorf("context still reports a critical section")
	}
}

func TestTickWithoutSwitch(t *testing.T) {
	m, c := newTestCore(t)
	r, tasks := startTasks(t, m, c, []uint32{topA, topB}, []uint32{entryA, entryB})

	if err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ticks != 1 || r.calls != 0 || c.Current() != tasks[0] {
		t.Errorf("expected a tick without a switch, got ticks=%d calls=%d", r.ticks, r.calls)
	}
}

func TestTaskReturnHalts(t *testing.T) {
	m, c := newTestCore(t)
	startTasks(t, m, c, []uint32{topA}, []uint32{entryA})
	m.Map(entryA, func(m *machine.Machine) {
		// Return from the entry function
		m.PC = m.LR
	})

	if err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Step(); !errors.Is(err, machine.ErrTaskReturned) {
		t.Errorf("expected ErrTaskReturned, got %v", err)
	}
	if m.InterruptsEnabled() {
		t.Error("expected interrupts disabled by the exit trap")
	}
}

func TestEnterCriticalFromHandler(t *testing.T) {
	m, c := newTestCore(t)
	m.SetBasePriority(0x40)

	prev := c.EnterCriticalFromHandler()
	if prev != 0x40 {
		t.Errorf("expected previous mask 0x40, got %#x", prev)
	}
	want := c.Config().MaxSyscallInterruptPriority & c.Config().PriorityMask()
	if m.BasePriority() != want {
		t.Errorf("expected BASEPRI %#x, got %#x", want, m.BasePriority())
	}
	c.ExitCriticalFromHandler(prev)
	if m.BasePriority() != 0x40 {
		t.Errorf("expected BASEPRI restored, got %#x", m.BasePriority())
	}
}
