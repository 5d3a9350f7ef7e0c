// Package trace records what the port layer does on every switch and checks
// the recording for ordering mistakes.
package trace

import (
	"errors"
	"fmt"
	"io"

	"omibyte.io/rtport/port"
)

type Kind uint8

const (
	SwitchOut Kind = iota
	SwitchIn
	CriticalEnter
	CriticalExit
)

func (k Kind) String() string {
	switch k {
	case SwitchOut:
		return "out"
	case SwitchIn:
		return "in"
	case CriticalEnter:
		return "crit+"
	case CriticalExit:
		return "crit-"
	}
	return "unknown"
}

// Namer resolves a control record to a printable task name.
type Namer interface {
	TaskName(t *port.TaskControlRecord) string
}

type Event struct {
	Seq          int
	Kind         Kind
	Task         string
	StackPointer uint32
	Level        uint8
}

func (e Event) String() string {
	switch e.Kind {
	case SwitchOut, SwitchIn:
		return fmt.Sprintf("%4d %-5s %-8s sp=%#08x", e.Seq, e.Kind, e.Task, e.StackPointer)
	}
	return fmt.Sprintf("%4d %-5s basepri=%#02x", e.Seq, e.Kind, e.Level)
}

// Transition is one hand-over of the core. From is empty for the first task.
type Transition struct {
	From string
	To   string
}

// Recorder implements port.Tracer.
type Recorder struct {
	namer  Namer
	events []Event

	depth   int
	out     string
	saved   map[string]uint32
	last    string
	started bool
	errs    []error

	transitions []Transition
}

func NewRecorder(namer Namer) *Recorder {
	return &Recorder{
		namer: namer,
		saved: map[string]uint32{},
	}
}

func (r *Recorder) name(t *port.TaskControlRecord) string {
	if r.namer == nil {
		return fmt.Sprintf("%p", t)
	}
	return r.namer.TaskName(t)
}

func (r *Recorder) add(e Event) {
	e.Seq = len(r.events)
	r.events = append(r.events, e)
}

func (r *Recorder) SwitchedOut(t *port.TaskControlRecord) {
	name := r.name(t)
	if r.out != "" {
		r.errs = append(r.errs, fmt.Errorf("%w: %s then %s", ErrUnbalancedSwitch, r.out, name))
	}
	r.out = name
	r.saved[name] = t.StackPointer
	r.add(Event{Kind: SwitchOut, Task: name, StackPointer: t.StackPointer})
}

func (r *Recorder) SwitchedIn(t *port.TaskControlRecord) {
	name := r.name(t)
	if sp, ok := r.saved[name]; ok && sp != t.StackPointer {
		r.errs = append(r.errs, fmt.Errorf("%w: %s saved at %#08x, resumed at %#08x", ErrStackMismatch, name, sp, t.StackPointer))
	}
	delete(r.saved, name)

	from := r.out
	if !r.started {
		r.started = true
	} else if from == "" {
		from = r.last
	}
	r.transitions = append(r.transitions, Transition{From: from, To: name})
	r.out = ""
	r.last = name
	r.add(Event{Kind: SwitchIn, Task: name, StackPointer: t.StackPointer})
}

func (r *Recorder) CriticalEnter(level uint8) {
	if r.depth > 0 {
		r.errs = append(r.errs, fmt.Errorf("%w: at event %d", ErrNestedWindow, len(r.events)))
	}
	r.depth++
	r.add(Event{Kind: CriticalEnter, Level: level})
}

func (r *Recorder) CriticalExit(level uint8) {
	if r.depth == 0 {
		r.errs = append(r.errs, fmt.Errorf("%w: at event %d", ErrUnbalancedWindow, len(r.events)))
	} else {
		r.depth--
	}
	r.add(Event{Kind: CriticalExit, Level: level})
}

// Events returns everything recorded so far.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Transitions returns the hand-overs of the core in order.
func (r *Recorder) Transitions() []Transition {
	return append([]Transition(nil), r.transitions...)
}

// Sequence returns the names of the tasks switched in, in order.
func (r *Recorder) Sequence() []string {
	seq := make([]string, len(r.transitions))
	for i, tr := range r.transitions {
		seq[i] = tr.To
	}
	return seq
}

// Verify reports every ordering violation seen so far.
func (r *Recorder) Verify() error {
	errs := append([]error(nil), r.errs...)
	if r.depth != 0 {
		errs = append(errs, fmt.Errorf("%w: %d window(s) still open", ErrNestedWindow, r.depth))
	}
	return errors.Join(errs...)
}

// WriteLog prints one line per event.
func (r *Recorder) WriteLog(w io.Writer) error {
	for _, e := range r.events {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}
	return nil
}
