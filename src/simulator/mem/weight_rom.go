package mem

import (
	"fmt"
	"tinytpu/src/misc"
)

// WeightRom stores the convolution kernels.  Each row holds one kernel row
// for one channel group: word j packs the four channel weights of kernel
// column j.  The read port is registered like the tensor RAM's.
type WeightRom struct {
	num_rows int
	rows     [][4]uint32

	read_req_valid bool
	read_req_addr  int

	read_data_valid bool
	read_data       [4]uint32

	stat_factory *misc.StatFactory
}

func (this *WeightRom) Init(num_rows int) {
	if num_rows <= 0 {
		err := fmt.Errorf("weight ROM row count (%d) must be positive", num_rows)
		panic(err)
	}

	this.num_rows = num_rows
	this.rows = make([][4]uint32, num_rows)

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init("WeightRom")
}

func (this *WeightRom) Fini() {
}

func (this *WeightRom) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

func (this *WeightRom) NumRows() int {
	return this.num_rows
}

// LoadBytes fills the ROM from packed bytes, 16 bytes per row, each word
// little endian.
func (this *WeightRom) LoadBytes(bytes []uint8) {
	if len(bytes) > 16*this.num_rows {
		err := fmt.Errorf("weight ROM cannot hold %d bytes", len(bytes))
		panic(err)
	}

	for i, value := range bytes {
		row := i / 16
		word := (i % 16) / 4
		offset := i % 4

		this.rows[row][word] |= uint32(value) << uint(8*offset)
	}
}

func (this *WeightRom) LoadRow(address int, row [4]uint32) {
	this.checkAddress(address)
	this.rows[address] = row
}

func (this *WeightRom) SetRead(valid bool, address int) {
	this.read_req_valid = valid
	this.read_req_addr = address
}

func (this *WeightRom) ReadValid() bool {
	return this.read_data_valid
}

func (this *WeightRom) Row() [4]uint32 {
	return this.read_data
}

func (this *WeightRom) Cycle() {
	if this.read_req_valid {
		this.checkAddress(this.read_req_addr)
		this.read_data = this.rows[this.read_req_addr]
		this.read_data_valid = true
		this.stat_factory.Increment("reads", 1)
	} else {
		this.read_data_valid = false
	}

	this.read_req_valid = false
}

func (this *WeightRom) checkAddress(address int) {
	if address < 0 || address >= this.num_rows {
		err := fmt.Errorf("weight ROM address %d is out of range (%d rows)", address, this.num_rows)
		panic(err)
	}
}
