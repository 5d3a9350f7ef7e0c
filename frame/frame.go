// Package frame describes the ARMv7-M task stack frame: the eight words the
// hardware stacks on exception entry plus the eight callee-saved registers
// the port layer saves by hand below them.
package frame

const (
	// WordSize is the size of a stacked register in bytes.
	WordSize = 4

	// CalleeWords is the number of registers saved manually (R4-R11).
	CalleeWords = 8

	// HardwareWords is the number of registers stacked by exception entry.
	HardwareWords = 8

	// Words is the complete frame length.
	Words = CalleeWords + HardwareWords

	CalleeSize   = CalleeWords * WordSize
	HardwareSize = HardwareWords * WordSize
	Size         = Words * WordSize

	// InitialXPSR only has the Thumb bit set. Clearing it makes the exception
	// return fault with INVSTATE.
	InitialXPSR uint32 = 0x01000000

	// ThumbBit is the execution state bit in xPSR.
	ThumbBit uint32 = 1 << 24

	// StartAddressMask clears bit 0 of an entry point. The hardware loads PC
	// from the frame on exception return and requires a halfword aligned
	// address.
	StartAddressMask uint32 = 0xFFFFFFFE
)

// Word offsets from the frame base (lowest address).
const (
	OffsetR4 = iota
	OffsetR5
	OffsetR6
	OffsetR7
	OffsetR8
	OffsetR9
	OffsetR10
	OffsetR11
	OffsetR0
	OffsetR1
	OffsetR2
	OffsetR3
	OffsetR12
	OffsetLR
	OffsetPC
	OffsetPSR
)

// Memory is word addressable target memory.
type Memory interface {
	LoadWord(addr uint32) uint32
	StoreWord(addr uint32, value uint32)
}

// Registers are the registers the hardware does not stack on exception entry.
type Registers struct {
	R4  uint32
	R5  uint32
	R6  uint32
	R7  uint32
	R8  uint32
	R9  uint32
	R10 uint32
	R11 uint32
}

// HardwareFrame is the part of the frame the exception entry sequence pushes
// and exception return pops.
type HardwareFrame struct {
	R0  uint32
	R1  uint32
	R2  uint32
	R3  uint32
	R12 uint32
	LR  uint32
	PC  uint32
	PSR uint32
}

// Frame is a complete saved task context as laid out in memory.
type Frame struct {
	Regs Registers
	HardwareFrame
}

// Words returns the registers in stack order, lowest address first.
func (r Registers) Words() [CalleeWords]uint32 {
	return [CalleeWords]uint32{r.R4, r.R5, r.R6, r.R7, r.R8, r.R9, r.R10, r.R11}
}

// RegistersFromWords is the inverse of Registers.Words.
func RegistersFromWords(w [CalleeWords]uint32) Registers {
	return Registers{
		R4: w[0], R5: w[1], R6: w[2], R7: w[3],
		R8: w[4], R9: w[5], R10: w[6], R11: w[7],
	}
}

// Words returns the hardware stacked registers, lowest address first.
func (h HardwareFrame) Words() [HardwareWords]uint32 {
	return [HardwareWords]uint32{h.R0, h.R1, h.R2, h.R3, h.R12, h.LR, h.PC, h.PSR}
}

// HardwareFrameFromWords is the inverse of HardwareFrame.Words.
func HardwareFrameFromWords(w [HardwareWords]uint32) HardwareFrame {
	return HardwareFrame{
		R0: w[0], R1: w[1], R2: w[2], R3: w[3],
		R12: w[4], LR: w[5], PC: w[6], PSR: w[7],
	}
}

// Words returns the whole frame, lowest address first.
func (f Frame) Words() [Words]uint32 {
	var w [Words]uint32
	regs := f.Regs.Words()
	hw := f.HardwareFrame.Words()
	copy(w[:CalleeWords], regs[:])
	copy(w[CalleeWords:], hw[:])
	return w
}

// Thumb reports whether the stacked xPSR would resume in Thumb state.
func (h HardwareFrame) Thumb() bool {
	return h.PSR&ThumbBit != 0
}

// Push stores regs below sp the way STMDB does and returns the lowered stack
// pointer.
func Push(mem Memory, sp uint32, regs Registers) uint32 {
	sp -= CalleeSize
	for i, w := range regs.Words() {
		mem.StoreWord(sp+uint32(i)*WordSize, w)
	}
	return sp
}

// Pop loads the registers at sp the way LDMIA does and returns the raised
// stack pointer.
func Pop(mem Memory, sp uint32) (Registers, uint32) {
	var w [CalleeWords]uint32
	for i := range w {
		w[i] = mem.LoadWord(sp + uint32(i)*WordSize)
	}
	return RegistersFromWords(w), sp + CalleeSize
}

// PushHardware stores a hardware frame below sp and returns the new stack
// pointer.
func PushHardware(mem Memory, sp uint32, h HardwareFrame) uint32 {
	sp -= HardwareSize
	for i, w := range h.Words() {
		mem.StoreWord(sp+uint32(i)*WordSize, w)
	}
	return sp
}

// PopHardware loads a hardware frame from sp and returns the new stack
// pointer.
func PopHardware(mem Memory, sp uint32) (HardwareFrame, uint32) {
	var w [HardwareWords]uint32
	for i := range w {
		w[i] = mem.LoadWord(sp + uint32(i)*WordSize)
	}
	return HardwareFrameFromWords(w), sp + HardwareSize
}

// Read decodes the complete frame at sp without modifying memory.
func Read(mem Memory, sp uint32) Frame {
	regs, sp := Pop(mem, sp)
	hw, _ := PopHardware(mem, sp)
	return Frame{Regs: regs, HardwareFrame: hw}
}

// Word returns the address of the word at offset in the frame based at sp.
func Word(sp uint32, offset int) uint32 {
	return sp + uint32(offset)*WordSize
}
