package mem

import (
	"fmt"
	"tinytpu/src/misc"
)

// DenseRom stores the fully-connected layer weights as int8 bytes in
// row-major order: the weight connecting input i to output o of a layer with
// out_size outputs sits at base + i*out_size + o.
type DenseRom struct {
	num_bytes int
	bytes     []int8

	read_req_valid bool
	read_req_addr  int

	read_data_valid bool
	read_data       int8

	stat_factory *misc.StatFactory
}

func (this *DenseRom) Init(num_bytes int) {
	if num_bytes <= 0 {
		err := fmt.Errorf("dense ROM byte count (%d) must be positive", num_bytes)
		panic(err)
	}

	this.num_bytes = num_bytes
	this.bytes = make([]int8, num_bytes)

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init("DenseRom")
}

func (this *DenseRom) Fini() {
}

func (this *DenseRom) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

func (this *DenseRom) NumBytes() int {
	return this.num_bytes
}

func (this *DenseRom) LoadBytes(bytes []uint8) {
	if len(bytes) > this.num_bytes {
		err := fmt.Errorf("dense ROM cannot hold %d bytes", len(bytes))
		panic(err)
	}

	for i, value := range bytes {
		this.bytes[i] = int8(value)
	}
}

func (this *DenseRom) LoadByte(address int, data int8) {
	this.checkAddress(address)
	this.bytes[address] = data
}

func (this *DenseRom) SetRead(valid bool, address int) {
	this.read_req_valid = valid
	this.read_req_addr = address
}

func (this *DenseRom) ReadValid() bool {
	return this.read_data_valid
}

func (this *DenseRom) ReadData() int8 {
	return this.read_data
}

func (this *DenseRom) Cycle() {
	if this.read_req_valid {
		this.checkAddress(this.read_req_addr)
		this.read_data = this.bytes[this.read_req_addr]
		this.read_data_valid = true
		this.stat_factory.Increment("reads", 1)
	} else {
		this.read_data_valid = false
	}

	this.read_req_valid = false
}

func (this *DenseRom) checkAddress(address int) {
	if address < 0 || address >= this.num_bytes {
		err := fmt.Errorf("dense ROM address %d is out of range (%d bytes)", address, this.num_bytes)
		panic(err)
	}
}
