package mem

import (
	"fmt"
	"tinytpu/src/simulator/quant"
)

// ScaleRom stores the per-layer requantization parameters.  It is read once
// at layer setup, not per cycle, so it exposes a plain accessor instead of a
// registered port.
type ScaleRom struct {
	entries []quant.ScaleParams
}

func (this *ScaleRom) Init(num_entries int) {
	if num_entries <= 0 {
		err := fmt.Errorf("scale ROM entry count (%d) must be positive", num_entries)
		panic(err)
	}

	this.entries = make([]quant.ScaleParams, num_entries)
}

func (this *ScaleRom) Fini() {
}

func (this *ScaleRom) NumEntries() int {
	return len(this.entries)
}

// LoadWords fills the ROM from 64-bit words: the low 32 bits hold the fixed
// point multiplier and the next 6 bits the signed shift.
func (this *ScaleRom) LoadWords(words []uint64) {
	if len(words) > len(this.entries) {
		err := fmt.Errorf("scale ROM cannot hold %d entries", len(words))
		panic(err)
	}

	for i, word := range words {
		multiplier := int32(word & 0xffffffff)

		shift := int((word >> 32) & 0x3f)
		if shift >= 32 {
			shift -= 64
		}

		this.entries[i] = quant.ScaleParams{Multiplier: multiplier, Shift: shift}
	}
}

func (this *ScaleRom) LoadEntry(address int, params quant.ScaleParams) {
	this.checkAddress(address)
	this.entries[address] = params
}

func (this *ScaleRom) Entry(address int) quant.ScaleParams {
	this.checkAddress(address)
	return this.entries[address]
}

func (this *ScaleRom) checkAddress(address int) {
	if address < 0 || address >= len(this.entries) {
		err := fmt.Errorf("scale ROM address %d is out of range (%d entries)", address, len(this.entries))
		panic(err)
	}
}
