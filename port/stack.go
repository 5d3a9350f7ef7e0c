package port

import "omibyte.io/rtport/frame"

// InitializeStack builds the frame a new task starts from. Returning from
// the exception that loads it starts entryPoint with parameter in R0, and a
// return from entryPoint lands in the exit trap. The callee saved region is
// reserved but not written. The result is the task's initial stack pointer.
func (c *Context) InitializeStack(topOfStack, entryPoint, parameter uint32) uint32 {
	sp := topOfStack

	// Popped by the hardware on exception return
	sp -= frame.WordSize
	c.p.StoreWord(sp, frame.InitialXPSR)
	sp -= frame.WordSize
	c.p.StoreWord(sp, entryPoint&frame.StartAddressMask)
	sp -= frame.WordSize
	c.p.StoreWord(sp, c.p.ExitTrap())

	// R12, R3, R2, R1
	for i := 0; i < 4; i++ {
		sp -= frame.WordSize
		c.p.StoreWord(sp, 0)
	}
	sp -= frame.WordSize
	c.p.StoreWord(sp, parameter)

	// R4-R11 are popped by the handlers
	sp -= frame.CalleeSize
	return sp
}
