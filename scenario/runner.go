package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"omibyte.io/rtport/kernel"
	"omibyte.io/rtport/machine"
	"omibyte.io/rtport/port"
	"omibyte.io/rtport/targets"
	"omibyte.io/rtport/trace"
)

const (
	idleName = "idle"

	// Task entry points are laid out in flash starting here
	codeOffset uint32 = 0x1000
	codeStride uint32 = 0x100
)

// Runner owns one simulated core with the port, the kernel and a recorder
// wired together.
type Runner struct {
	s      *Scenario
	target targets.TargetInfo

	m   *machine.Machine
	ctx *port.Context
	k   *kernel.Kernel
	rec *trace.Recorder

	coreEvents []machine.Event
	errs       []error
}

// NewRunner builds the core for the scenario's target and creates its tasks.
func NewRunner(s *Scenario) (*Runner, error) {
	cfg := s.PortConfig()

	mcfg := machine.DefaultConfig()
	mcfg.PriorityBits = cfg.PriorityBits
	r := &Runner{s: s}
	if cfg.Target != "" {
		target, err := targets.All().Find(cfg.Target)
		if err != nil {
			return nil, err
		}
		r.target = target
		mcfg.FlashBase, mcfg.FlashSize = target.FlashBase, target.FlashSize
		mcfg.RAMBase, mcfg.RAMSize = target.RAMBase, target.RAMSize
	}

	r.m = machine.New(mcfg)
	r.m.Observe(func(e machine.Event) {
		r.coreEvents = append(r.coreEvents, e)
	})

	r.ctx = port.NewContext(r.m, cfg)
	svc, pendSV, sysTick := r.ctx.Handlers()
	r.m.SetHandler(machine.SVCall, svc)
	r.m.SetHandler(machine.PendSV, pendSV)
	r.m.SetHandler(machine.SysTick, sysTick)

	// Task stacks take the lower half of RAM, the main stack the upper half
	r.k = kernel.New(r.ctx, mcfg.RAMBase, mcfg.RAMSize/2)
	r.rec = trace.NewRecorder(r.k)
	r.ctx.Trace(r.rec)

	tasks := s.Tasks
	if s.Idle {
		tasks = append(tasks[:len(tasks):len(tasks)], Task{
			Name:       idleName,
			Behavior:   BehaviorSpin,
			StackWords: defaultStackWords,
		})
	}
	for i, spec := range tasks {
		entry := (mcfg.FlashBase + codeOffset + uint32(i)*codeStride) | 1
		t, err := r.k.CreateTask(spec.Name, entry, spec.Param, spec.StackWords)
		if err != nil {
			return nil, err
		}
		r.m.Map(entry, r.routine(spec, t))
	}
	return r, nil
}

func (r *Runner) routine(spec Task, t *kernel.Task) machine.Routine {
	runs := 0
	return func(m *machine.Machine) {
		runs++
		switch spec.Behavior {
		case BehaviorYield:
			r.ctx.Yield()
		case BehaviorDelay:
			r.k.Delay(spec.Delay)
		case BehaviorExit:
			if runs >= spec.After {
				// Return from the entry function
				m.PC = m.LR &^ 1
			}
		case BehaviorRemove:
			if runs >= spec.After {
				if err := r.k.Remove(t); err != nil {
					r.errs = append(r.errs, fmt.Errorf("%s: %w", t.Name, err))
				}
			}
		}
	}
}

// Machine returns the simulated core.
func (r *Runner) Machine() *machine.Machine {
	return r.m
}

// Run starts the kernel and runs the scenario's slices. Faults on the core
// and scheduler failures end up in the result; the error is only set when
// the run could not start or ctx ended it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.k.Start(); err != nil {
		return nil, err
	}
	halted := r.run(ctx)
	if errors.Is(halted, context.Canceled) || errors.Is(halted, context.DeadlineExceeded) {
		return r.result(nil), halted
	}
	return r.result(halted), nil
}

func (r *Runner) run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			perr, ok := p.(error)
			if !ok {
				panic(p)
			}
			err = fmt.Errorf("scheduler: %w", perr)
		}
	}()
	return r.m.Run(ctx, r.s.Slices)
}

func (r *Runner) result(halted error) *Result {
	res := &Result{
		Name:         r.s.Name,
		Target:       r.s.PortConfig().Target,
		Cpu:          r.target.Cpu,
		PriorityBits: r.s.PortConfig().PriorityBits,
		Slices:       r.m.Slices(),
		Ticks:        r.k.TickCount(),
		Sequence:     r.rec.Sequence(),
		Summary:      r.rec.Summarize(),
		Verify:       r.rec.Verify(),
		Halted:       halted,
		Errors:       errors.Join(r.errs...),
		Events:       r.rec.Events(),
		CoreEvents:   append([]machine.Event(nil), r.coreEvents...),
	}
	for _, t := range r.k.Tasks() {
		res.Tasks = append(res.Tasks, TaskResult{
			Name:         t.Name,
			State:        t.State(),
			SwitchIns:    t.SwitchIns(),
			StackPointer: t.StackPointer,
		})
	}
	return res
}

type TaskResult struct {
	Name         string
	State        string
	SwitchIns    int
	StackPointer uint32
}

type Result struct {
	Name         string
	Target       string
	Cpu          string
	PriorityBits uint8

	Slices   uint64
	Ticks    uint64
	Sequence []string
	Tasks    []TaskResult
	Summary  trace.Summary

	// Verify holds ordering violations found in the trace.
	Verify error
	// Halted is why the core stopped before running every slice.
	Halted error
	// Errors collects task level failures that did not stop the core.
	Errors error

	Events     []trace.Event
	CoreEvents []machine.Event
}

func (res *Result) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", res.Name)
	if res.Target != "" {
		fmt.Fprintf(&b, "target: %s (%s, %d priority bits)\n", res.Target, res.Cpu, res.PriorityBits)
	} else {
		fmt.Fprintf(&b, "target: none (%d priority bits)\n", res.PriorityBits)
	}
	fmt.Fprintf(&b, "slices: %d ticks: %d\n", res.Slices, res.Ticks)
	fmt.Fprintf(&b, "sequence: %s\n", strings.Join(res.Sequence, " "))
	b.WriteString("tasks:\n")
	for _, t := range res.Tasks {
		fmt.Fprintf(&b, "  %-8s %s\n", t.Name, t.State)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	if err := res.Summary.Write(w); err != nil {
		return err
	}

	b.Reset()
	b.WriteString("verify: ")
	b.WriteString(errString(res.Verify, "ok"))
	b.WriteString("\nhalted: ")
	b.WriteString(errString(res.Halted, "none"))
	b.WriteString("\n")
	if res.Errors != nil {
		fmt.Fprintf(&b, "errors: %v\n", res.Errors)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTrace prints the port trace followed by the core event log.
func (res *Result) WriteTrace(w io.Writer) error {
	var b strings.Builder
	b.WriteString("port:\n")
	for _, e := range res.Events {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	b.WriteString("core:\n")
	for _, e := range res.CoreEvents {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	for _, t := range res.Tasks {
		fmt.Fprintf(&b, "%-8s sp=%#08x ran %d\n", t.Name, t.StackPointer, t.SwitchIns)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func errString(err error, none string) string {
	if err == nil {
		return none
	}
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
