package kernel

import (
	"errors"
	"testing"

	"omibyte.io/rtport/config"
	"omibyte.io/rtport/frame"
	"omibyte.io/rtport/machine"
	"omibyte.io/rtport/port"
)

const stackBase uint32 = 0x20000000

func newTestKernel(t *testing.T, size uint32) (*machine.Machine, *port.Context, *Kernel) {
	t.Helper()
	m := machine.New(machine.DefaultConfig())
	ctx := port.NewContext(m, config.Default())
	svc, pendSV, sysTick := ctx.Handlers()
	m.SetHandler(machine.SVCall, svc)
	m.SetHandler(machine.PendSV, pendSV)
	m.SetHandler(machine.SysTick, sysTick)
	return m, ctx, New(ctx, stackBase, size)
}

func createTasks(t *testing.T, m *machine.Machine, k *Kernel, names ...string) []*Task {
	t.Helper()
	var tasks []*Task
	for i, name := range names {
		entry := uint32(0x1001 + i*0x100)
		task, err := k.CreateTask(name, entry, uint32(i), 128)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.Map(entry, func(*machine.Machine) {})
		tasks = append(tasks, task)
	}
	return tasks
}

func TestCreateTask(t *testing.T) {
	m, ctx, k := newTestKernel(t, 0x1000)

	task, err := k.CreateTask("a", 0x1001, 0x55, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.StackTop != 0x200003F8 {
		t.Errorf("expected top 0x200003f8, got %#x", task.StackTop)
	}
	if task.StackPointer != task.StackTop-frame.Size {
		t.Errorf("expected stack pointer one frame below the top, got %#x", task.StackPointer)
	}
	if ctx.Current() != &task.TaskControlRecord {
		t.Error("expected first task to become current")
	}
	if f := frame.Read(m, task.StackPointer); f.PC != 0x1000 || f.R0 != 0x55 {
		t.Errorf("unexpected initial frame %+v", f.HardwareFrame)
	}
	if k.TaskName(ctx.Current()) != "a" {
		t.Errorf("unexpected task name %q", k.TaskName(ctx.Current()))
	}
}

func TestCreateTaskErrors(t *testing.T) {
	_, _, k := newTestKernel(t, 1024)

	if _, err := k.CreateTask("tiny", 0x1001, 0, 16); !errors.Is(err, ErrStackTooSmall) {
		t.Errorf("expected ErrStackTooSmall, got %v", err)
	}
	// 0x40000040 words wraps to 256 bytes
	if _, err := k.CreateTask("huge", 0x1001, 0, 0x40000040); !errors.Is(err, ErrStackTooLarge) {
		t.Errorf("expected ErrStackTooLarge, got %v", err)
	}
	if _, err := k.CreateTask("a", 0x1001, 0, 256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := k.CreateTask("b", 0x1001, 0, 256); !errors.Is(err, ErrOutOfStack) {
		t.Errorf("expected ErrOutOfStack, got %v", err)
	}
}

func TestRoundRobin(t *testing.T) {
	m, _, k := newTestKernel(t, 0x2000)
	tasks := createTasks(t, m, k, "a", "b", "c")
	if err := k.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"b", "c", "a", "b"}
	for i, name := range want {
		if err := m.Step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cur := k.Current(); cur.Name != name {
			t.Errorf("slice %d: expected %s, got %s", i, name, cur.Name)
		}
	}
	if k.TickCount() != 4 {
		t.Errorf("expected 4 ticks, got %d", k.TickCount())
	}
	if tasks[0].SwitchIns() != 2 || tasks[1].SwitchIns() != 2 || tasks[2].SwitchIns() != 1 {
		t.Errorf("unexpected switch counts %d %d %d",
			tasks[0].SwitchIns(), tasks[1].SwitchIns(), tasks[2].SwitchIns())
	}
}

func TestDelay(t *testing.T) {
	m, _, k := newTestKernel(t, 0x2000)
	tasks := createTasks(t, m, k, "a", "b")
	m.Map(tasks[0].Entry, func(*machine.Machine) {
		k.Delay(2)
	})
	if err := k.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, name := range []string{"b", "a", "b", "a", "b"} {
		if err := m.Step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cur := k.Current(); cur.Name != name {
			t.Errorf("slice %d: expected %s, got %s (%s)", i, name, cur.Name, tasks[0].State())
		}
	}
}

func TestAllAsleep(t *testing.T) {
	m, _, k := newTestKernel(t, 0x2000)
	tasks := createTasks(t, m, k, "a")
	m.Map(tasks[0].Entry, func(*machine.Machine) {
		k.Delay(5)
	})
	if err := k.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		if r := recover(); r != ErrNoReadyTask {
			t.Errorf("expected ErrNoReadyTask panic, got %v", r)
		}
	}()
	m.Step()
}

func TestRemove(t *testing.T) {
	m, _, k := newTestKernel(t, 0x2000)
	tasks := createTasks(t, m, k, "a", "b", "c")
	if err := k.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a deletes itself
	if err := k.Remove(tasks[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Current().Name != "b" || tasks[0].State() != "deleted" {
		t.Fatalf("expected b to run after a was removed, got %s", k.Current().Name)
	}

	for i, name := range []string{"c", "b", "c"} {
		if err := m.Step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cur := k.Current(); cur.Name != name {
			t.Errorf("slice %d: expected %s, got %s", i, name, cur.Name)
		}
	}

	if err := k.Remove(tasks[1]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.Remove(tasks[2]); !errors.Is(err, ErrLastTask) {
		t.Errorf("expected ErrLastTask, got %v", err)
	}
}
