// Package scs maps the ARMv7-M System Control Space registers used by the
// port layer and the simulated core.
package scs

// Bus is anything that can perform 32-bit register accesses.
type Bus interface {
	LoadWord(addr uint32) uint32
	StoreWord(addr uint32, value uint32)
}

// Register is the address of a memory mapped 32-bit register.
type Register uint32

const (
	Base Register = 0xE000E000
	End  Register = 0xE000F000

	SYST_CSR   Register = 0xE000E010
	SYST_RVR   Register = 0xE000E014
	SYST_CVR   Register = 0xE000E018
	SYST_CALIB Register = 0xE000E01C

	NVIC_ISER Register = 0xE000E100
	NVIC_ICER Register = 0xE000E180
	NVIC_ISPR Register = 0xE000E200
	NVIC_ICPR Register = 0xE000E280
	NVIC_IPR  Register = 0xE000E400

	CPUID Register = 0xE000ED00
	ICSR  Register = 0xE000ED04
	VTOR  Register = 0xE000ED08
	AIRCR Register = 0xE000ED0C
	SHPR1 Register = 0xE000ED18
	SHPR2 Register = 0xE000ED1C
	SHPR3 Register = 0xE000ED20
)

const (
	ICSR_PENDSVSET  uint32 = 0x1 << 28
	ICSR_PENDSVCLR  uint32 = 0x1 << 27
	ICSR_PENDSTSET  uint32 = 0x1 << 26
	ICSR_PENDSTCLR  uint32 = 0x1 << 25
	ICSR_VECTACTIVE uint32 = 0x1FF

	SYST_CSR_ENABLE    uint32 = 0x1
	SYST_CSR_TICKINT   uint32 = 0x1 << 1
	SYST_CSR_CLKSOURCE uint32 = 0x1 << 2
	SYST_CSR_COUNTFLAG uint32 = 0x1 << 16

	SYST_RVR_RELOAD uint32 = 0xFFFFFF

	VTOR_TBLOFF uint32 = 0xFFFFFF80
)

// Byte positions of the system handler priority fields.
const (
	PRI_11 = 24 // SVCall, in SHPR2
	PRI_14 = 16 // PendSV, in SHPR3
	PRI_15 = 24 // SysTick, in SHPR3
)

// NumIRQ is the number of external interrupts the register map covers.
const NumIRQ = 32

func (r Register) Load(b Bus) uint32 {
	return b.LoadWord(uint32(r))
}

func (r Register) Store(b Bus, value uint32) {
	b.StoreWord(uint32(r), value)
}

// Set sets or clears bits with a read-modify-write.
func (r Register) Set(b Bus, bits uint32, enable bool) {
	value := r.Load(b)
	if enable {
		value |= bits
	} else {
		value &= ^(value & bits)
	}
	r.Store(b, value)
}

// Has reports whether all of bits are set.
func (r Register) Has(b Bus, bits uint32) bool {
	return r.Load(b)&bits == bits
}

// Byte returns the byte field starting at shift.
func (r Register) Byte(b Bus, shift uint) uint8 {
	return uint8((r.Load(b) >> shift) & 0xFF)
}

// SetByte replaces the byte field starting at shift.
func (r Register) SetByte(b Bus, shift uint, value uint8) {
	v := r.Load(b)
	v &= ^(v & (0xFF << shift))
	v |= uint32(value) << shift
	r.Store(b, v)
}

// InRange reports whether addr falls inside the System Control Space.
func InRange(addr uint32) bool {
	return addr >= uint32(Base) && addr < uint32(End)
}

// PriorityMask returns the bits of an 8-bit priority field that are
// implemented on a core with the given number of priority bits.
func PriorityMask(bits uint8) uint8 {
	if bits == 0 || bits > 8 {
		bits = 8
	}
	return uint8(0xFF << (8 - bits))
}
