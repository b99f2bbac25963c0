package mem

import (
	"fmt"
	"tinytpu/src/misc"
)

// BiasRom stores one int32 bias per output channel, grouped per layer.  The
// wide read port returns four consecutive biases so the tensor array can
// preload one bias per column in a single request.
type BiasRom struct {
	num_entries int
	entries     []int32

	read_req_valid bool
	read_req_addr  int

	read_data_valid bool
	read_data       [4]int32

	stat_factory *misc.StatFactory
}

func (this *BiasRom) Init(num_entries int) {
	if num_entries <= 0 {
		err := fmt.Errorf("bias ROM entry count (%d) must be positive", num_entries)
		panic(err)
	}

	this.num_entries = num_entries
	this.entries = make([]int32, num_entries)

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init("BiasRom")
}

func (this *BiasRom) Fini() {
}

func (this *BiasRom) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

func (this *BiasRom) NumEntries() int {
	return this.num_entries
}

// LoadWords fills the ROM from 32-bit words in entry order.
func (this *BiasRom) LoadWords(words []uint32) {
	if len(words) > this.num_entries {
		err := fmt.Errorf("bias ROM cannot hold %d entries", len(words))
		panic(err)
	}

	for i, word := range words {
		this.entries[i] = int32(word)
	}
}

func (this *BiasRom) LoadEntry(address int, data int32) {
	this.checkAddress(address, 1)
	this.entries[address] = data
}

// Entry reads a single bias without going through the port.  The dense
// engine uses it, one bias per output neuron.
func (this *BiasRom) Entry(address int) int32 {
	this.checkAddress(address, 1)
	return this.entries[address]
}

func (this *BiasRom) SetRead(valid bool, address int) {
	this.read_req_valid = valid
	this.read_req_addr = address
}

func (this *BiasRom) ReadValid() bool {
	return this.read_data_valid
}

func (this *BiasRom) ReadData() [4]int32 {
	return this.read_data
}

func (this *BiasRom) Cycle() {
	if this.read_req_valid {
		this.checkAddress(this.read_req_addr, 4)

		for i := 0; i < 4; i++ {
			this.read_data[i] = this.entries[this.read_req_addr+i]
		}
		this.read_data_valid = true
		this.stat_factory.Increment("reads", 1)
	} else {
		this.read_data_valid = false
	}

	this.read_req_valid = false
}

func (this *BiasRom) checkAddress(address int, span int) {
	if address < 0 || address+span > this.num_entries {
		err := fmt.Errorf("bias ROM address %d is out of range (%d entries)", address, this.num_entries)
		panic(err)
	}
}
