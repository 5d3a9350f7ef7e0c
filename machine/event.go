package machine

import "fmt"

type EventKind uint8

const (
	EventPend EventKind = iota
	EventEnter
	EventReturn
	EventSVC
	EventLockup
)

// Event is something the core did that an observer may want to log.
type Event struct {
	Kind         EventKind
	Exception    Exception
	StackPointer uint32
	ExcReturn    uint32
	Imm          uint8
	Err          error
}

func (e Event) String() string {
	switch e.Kind {
	case EventPend:
		return fmt.Sprintf("pend %s", e.Exception)
	case EventEnter:
		return fmt.Sprintf("enter %s sp=%#08x", e.Exception, e.StackPointer)
	case EventReturn:
		return fmt.Sprintf("return %s exc_return=%#08x sp=%#08x", e.Exception, e.ExcReturn, e.StackPointer)
	case EventSVC:
		return fmt.Sprintf("svc #%d", e.Imm)
	case EventLockup:
		return fmt.Sprintf("lockup: %v", e.Err)
	}
	return "unknown"
}
