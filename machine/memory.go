package machine

import (
	"fmt"

	"omibyte.io/rtport/scs"
)

type region struct {
	name  string
	base  uint32
	words []uint32
}

func newRegion(name string, base, size uint32) *region {
	return &region{
		name:  name,
		base:  base,
		words: make([]uint32, size/4),
	}
}

func (r *region) contains(addr uint32) bool {
	return addr >= r.base && addr-r.base < uint32(len(r.words))*4
}

func (r *region) end() uint32 {
	return r.base + uint32(len(r.words))*4
}

func (m *Machine) regionOf(addr uint32) *region {
	for _, r := range m.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// LoadWord performs a 32-bit read. Unaligned or unmapped accesses lock the
// core up with a bus fault and read as zero.
func (m *Machine) LoadWord(addr uint32) uint32 {
	if scs.InRange(addr) {
		return m.loadSCS(scs.Register(addr))
	}
	r := m.regionOf(addr)
	if r == nil || addr&3 != 0 {
		m.lockup(fmt.Errorf("%w: read of %#08x", ErrBusFault, addr))
		return 0
	}
	return r.words[(addr-r.base)/4]
}

// StoreWord performs a 32-bit write. Unaligned or unmapped accesses lock the
// core up with a bus fault.
func (m *Machine) StoreWord(addr uint32, value uint32) {
	if scs.InRange(addr) {
		m.storeSCS(scs.Register(addr), value)
		return
	}
	r := m.regionOf(addr)
	if r == nil || addr&3 != 0 {
		m.lockup(fmt.Errorf("%w: write of %#08x", ErrBusFault, addr))
		return
	}
	r.words[(addr-r.base)/4] = value
}

func (m *Machine) loadSCS(reg scs.Register) uint32 {
	switch {
	case reg == scs.SYST_CSR:
		v := m.syst.csr
		// COUNTFLAG clears on read
		m.syst.csr &^= scs.SYST_CSR_COUNTFLAG
		return v
	case reg == scs.SYST_RVR:
		return m.syst.rvr
	case reg == scs.SYST_CVR:
		return m.syst.cvr
	case reg == scs.NVIC_ISER, reg == scs.NVIC_ICER:
		return m.nvic.enabled
	case reg == scs.NVIC_ISPR, reg == scs.NVIC_ICPR:
		var v uint32
		for i := 0; i < scs.NumIRQ; i++ {
			if m.pending[irqBase+i] {
				v |= 1 << i
			}
		}
		return v
	case reg >= scs.NVIC_IPR && reg < scs.NVIC_IPR+scs.NumIRQ:
		n := int(reg - scs.NVIC_IPR)
		if n&3 != 0 {
			return 0
		}
		return uint32(m.nvic.priority[n]) | uint32(m.nvic.priority[n+1])<<8 |
			uint32(m.nvic.priority[n+2])<<16 | uint32(m.nvic.priority[n+3])<<24
	case reg == scs.CPUID:
		// Cortex-M4 r0p1
		return 0x410FC241
	case reg == scs.ICSR:
		var v uint32
		if m.pending[PendSV] {
			v |= scs.ICSR_PENDSVSET
		}
		if m.pending[SysTick] {
			v |= scs.ICSR_PENDSTSET
		}
		if len(m.active) > 0 {
			v |= uint32(m.active[len(m.active)-1]) & scs.ICSR_VECTACTIVE
		}
		return v
	case reg == scs.VTOR:
		return m.vtor
	case reg == scs.SHPR1:
		return m.shpr[0]
	case reg == scs.SHPR2:
		return m.shpr[1]
	case reg == scs.SHPR3:
		return m.shpr[2]
	}
	return 0
}

func (m *Machine) storeSCS(reg scs.Register, value uint32) {
	switch {
	case reg == scs.SYST_CSR:
		m.syst.csr = value & (scs.SYST_CSR_ENABLE | scs.SYST_CSR_TICKINT | scs.SYST_CSR_CLKSOURCE)
	case reg == scs.SYST_RVR:
		m.syst.rvr = value & scs.SYST_RVR_RELOAD
	case reg == scs.SYST_CVR:
		// Any write clears the current value
		m.syst.cvr = 0
		m.syst.csr &^= scs.SYST_CSR_COUNTFLAG
	case reg == scs.NVIC_ISER:
		m.nvic.enabled |= value
		m.dispatch()
	case reg == scs.NVIC_ICER:
		m.nvic.enabled &^= value
	case reg == scs.NVIC_ISPR:
		for i := 0; i < scs.NumIRQ; i++ {
			if value&(1<<i) != 0 {
				m.pend(Exception(irqBase + i))
			}
		}
		m.dispatch()
	case reg == scs.NVIC_ICPR:
		for i := 0; i < scs.NumIRQ; i++ {
			if value&(1<<i) != 0 {
				m.pending[irqBase+i] = false
			}
		}
	case reg >= scs.NVIC_IPR && reg < scs.NVIC_IPR+scs.NumIRQ:
		n := int(reg - scs.NVIC_IPR)
		if n&3 != 0 {
			return
		}
		for i := 0; i < 4; i++ {
			m.nvic.priority[n+i] = uint8(value>>(8*i)) & m.priorityMask
		}
		m.dispatch()
	case reg == scs.ICSR:
		if value&scs.ICSR_PENDSVCLR != 0 {
			m.pending[PendSV] = false
		}
		if value&scs.ICSR_PENDSTCLR != 0 {
			m.pending[SysTick] = false
		}
		if value&scs.ICSR_PENDSVSET != 0 {
			m.pend(PendSV)
		}
		if value&scs.ICSR_PENDSTSET != 0 {
			m.pend(SysTick)
		}
		m.dispatch()
	case reg == scs.VTOR:
		m.vtor = value & scs.VTOR_TBLOFF
	case reg == scs.SHPR1, reg == scs.SHPR2, reg == scs.SHPR3:
		mask := uint32(m.priorityMask)
		mask |= mask<<8 | mask<<16 | mask<<24
		m.shpr[(reg-scs.SHPR1)/4] = value & mask
		m.dispatch()
	}
}
