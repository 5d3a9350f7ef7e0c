// Package kernel is a small round-robin scheduler that drives the port
// layer. It owns the task ring and the tick count; the port only sees the
// stack pointer at the start of each task.
package kernel

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/port"
)

type taskState uint8

const (
	taskReady taskState = iota
	taskRunning
	taskSleep
	taskDeleted
)

func (s taskState) String() string {
	switch s {
	case taskReady:
		return "ready"
	case taskRunning:
		return "running"
	case taskSleep:
		return "sleep"
	case taskDeleted:
		return "deleted"
	}
	return "unknown"
}

type Task struct {
	port.TaskControlRecord

	Name      string
	Entry     uint32
	Param     uint32
	StackBase uint32
	StackTop  uint32

	next      *Task
	prev      *Task
	state     taskState
	wakeTick  uint64
	switchIns int
}

func (t *Task) State() string {
	return t.state.String()
}

// SwitchIns counts how many times the task was given the core.
func (t *Task) SwitchIns() int {
	return t.switchIns
}

// Kernel keeps the task ring. It implements port.Scheduler and port.Ticker.
type Kernel struct {
	ctx   *port.Context
	stack *stackAllocator

	head  *Task
	tasks []*Task
	tick  uint64
}

// New creates a kernel that allocates task stacks from [base, base+size).
func New(ctx *port.Context, base, size uint32) *Kernel {
	k := &Kernel{
		ctx:   ctx,
		stack: &stackAllocator{next: base, end: base + size},
	}
	ctx.Attach(k)
	return k
}

// CreateTask allocates a stack, builds the task's initial frame and links it
// into the ring. The first task created runs first.
func (k *Kernel) CreateTask(name string, entry, param uint32, stackWords uint32) (*Task, error) {
	if stackWords > (math.MaxUint32-7)/frame.WordSize {
		return nil, fmt.Errorf("%w: %s has %d words", ErrStackTooLarge, name, stackWords)
	}
	if stackWords*frame.WordSize < frame.Size+8 {
		return nil, fmt.Errorf("%w: %s has %d words", ErrStackTooSmall, name, stackWords)
	}
	base, err := k.stack.alloc(stackWords * frame.WordSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	t := &Task{
		Name:      name,
		Entry:     entry,
		Param:     param,
		StackBase: base,
		// The top is the last word of the stack, rounded down to 8 bytes
		StackTop: (base + stackWords*frame.WordSize - frame.WordSize) &^ 7,
	}
	t.StackPointer = k.ctx.InitializeStack(t.StackTop, entry, param)

	// Insert the new task before the head, at the end of the ring
	if k.head == nil {
		k.head = t
		t.next = t
		t.prev = t
	} else {
		t.next = k.head
		t.prev = k.head.prev
		k.head.prev.next = t
		k.head.prev = t
	}
	k.tasks = append(k.tasks, t)

	if k.ctx.Current() == nil {
		k.ctx.SetCurrent(&t.TaskControlRecord)
	}
	return t, nil
}

// Start hands the core to the first task.
func (k *Kernel) Start() error {
	if cur := k.Current(); cur != nil {
		cur.state = taskRunning
		cur.switchIns++
	}
	return k.ctx.StartScheduler()
}

// Current returns the running task.
func (k *Kernel) Current() *Task {
	return k.lookup(k.ctx.Current())
}

func (k *Kernel) lookup(tcb *port.TaskControlRecord) *Task {
	if tcb == nil {
		return nil
	}
	i := slices.IndexFunc(k.tasks, func(t *Task) bool {
		return &t.TaskControlRecord == tcb
	})
	if i < 0 {
		return nil
	}
	return k.tasks[i]
}

// Tasks returns the tasks in creation order, including deleted ones.
func (k *Kernel) Tasks() []*Task {
	return slices.Clone(k.tasks)
}

// TaskName returns the name of the task owning tcb.
func (k *Kernel) TaskName(tcb *port.TaskControlRecord) string {
	if t := k.lookup(tcb); t != nil {
		return t.Name
	}
	return "?"
}

// TickCount returns the number of ticks since start.
func (k *Kernel) TickCount() uint64 {
	return k.tick
}

// SwitchContext picks the next ready task after the current one. Sleeping
// tasks whose deadline passed are woken on the way.
func (k *Kernel) SwitchContext() {
	last := k.Current()
	if last == nil {
		panic(ErrNotStarted)
	}
	if last.state == taskRunning {
		last.state = taskReady
	}

	next := last.next
	for i := 0; ; i++ {
		if next.state == taskSleep && k.tick >= next.wakeTick {
			next.state = taskReady
			next.wakeTick = 0
		}
		if next.state == taskReady {
			break
		}
		// A deleted task is no longer in the ring, so bound the walk too
		if next == last || i > len(k.tasks) {
			panic(ErrNoReadyTask)
		}
		next = next.next
	}

	next.state = taskRunning
	if next != last {
		next.switchIns++
	}
	k.ctx.SetCurrent(&next.TaskControlRecord)
}

// Tick advances time. It asks for a switch whenever another task is ready
// to share the core or the running task has stopped being runnable.
func (k *Kernel) Tick() bool {
	k.tick++
	cur := k.Current()
	switchNeeded := cur == nil || cur.state != taskRunning
	for _, t := range k.tasks {
		if t.state == taskSleep && k.tick >= t.wakeTick {
			t.state = taskReady
			t.wakeTick = 0
		}
		if t.state == taskReady {
			switchNeeded = true
		}
	}
	return switchNeeded
}

// Delay puts the running task to sleep for ticks and yields.
func (k *Kernel) Delay(ticks uint64) {
	cur := k.Current()
	if cur == nil {
		panic(ErrNotStarted)
	}
	if ticks == 0 {
		k.ctx.Yield()
		return
	}
	cur.state = taskSleep
	cur.wakeTick = k.tick + ticks
	k.ctx.Yield()
}

// Remove unlinks t from the ring. Removing the running task yields. Stack
// memory is not reclaimed.
func (k *Kernel) Remove(t *Task) error {
	if t.state == taskDeleted {
		return nil
	}
	if t.next == t {
		return ErrLastTask
	}

	// Unlink but keep t.next so a switch away from t can still walk the ring
	t.prev.next = t.next
	t.next.prev = t.prev
	if t == k.head {
		k.head = t.next
	}
	wasCurrent := k.Current() == t
	t.state = taskDeleted

	if wasCurrent {
		k.ctx.Yield()
	}
	return nil
}

// stackAllocator hands out task stacks from a fixed region.
type stackAllocator struct {
	next uint32
	end  uint32
}

func (a *stackAllocator) alloc(size uint32) (uint32, error) {
	// Keep every stack 8-byte aligned
	base := (a.next + 7) &^ 7
	if base+size > a.end || base+size < base {
		return 0, fmt.Errorf("%w: need %d bytes, %d left", ErrOutOfStack, size, a.end-a.next)
	}
	a.next = base + size
	return base, nil
}
