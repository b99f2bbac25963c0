package mem

import (
	"fmt"
	"tinytpu/src/misc"
)

// TensorRam holds the activation tensors in two banks so that one layer can
// stream its input from one bank while the next layer's tensor is written to
// the other.  Data is packed four int8 channel values per 32-bit word.
//
// Three ports are exposed.  The wide read port takes a 32-bit-word address
// and returns four consecutive words, the write port stores a single byte,
// and the narrow read port returns a single byte.  All ports are registered:
// a request presented before Cycle is visible on the output getters after
// Cycle.
type TensorRam struct {
	num_words int
	banks     [2][]uint32

	read_req_valid bool
	read_req_addr  int
	read_req_bank  int

	read_data_valid bool
	read_data       [4]uint32

	byte_read_req_valid bool
	byte_read_req_addr  int
	byte_read_req_bank  int

	byte_read_data_valid bool
	byte_read_data       int8

	write_req_valid bool
	write_req_addr  int
	write_req_bank  int
	write_req_data  int8

	stat_factory *misc.StatFactory
}

func (this *TensorRam) Init(num_words int) {
	if num_words <= 0 {
		err := fmt.Errorf("tensor RAM word count (%d) must be positive", num_words)
		panic(err)
	}

	this.num_words = num_words
	this.banks[0] = make([]uint32, num_words)
	this.banks[1] = make([]uint32, num_words)

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init("TensorRam")
}

func (this *TensorRam) Fini() {
}

func (this *TensorRam) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

func (this *TensorRam) NumWords() int {
	return this.num_words
}

// LoadBytes preloads a bank with packed tensor bytes starting at byte
// address 0.  It is used to stage the input image before simulation starts.
func (this *TensorRam) LoadBytes(bank int, bytes []uint8) {
	this.checkBank(bank)

	if len(bytes) > 4*this.num_words {
		err := fmt.Errorf("tensor RAM bank %d cannot hold %d bytes", bank, len(bytes))
		panic(err)
	}

	for i, value := range bytes {
		this.storeByte(bank, i, int8(value))
	}
}

// SetRead presents a wide read request.  word_address addresses 32-bit
// words; the four words word_address..word_address+3 are returned.
func (this *TensorRam) SetRead(valid bool, word_address int, bank int) {
	this.read_req_valid = valid
	this.read_req_addr = word_address
	this.read_req_bank = bank
}

func (this *TensorRam) ReadValid() bool {
	return this.read_data_valid
}

func (this *TensorRam) ReadData() [4]uint32 {
	return this.read_data
}

// SetByteRead presents a narrow read request addressed in bytes.
func (this *TensorRam) SetByteRead(valid bool, byte_address int, bank int) {
	this.byte_read_req_valid = valid
	this.byte_read_req_addr = byte_address
	this.byte_read_req_bank = bank
}

func (this *TensorRam) ByteReadValid() bool {
	return this.byte_read_data_valid
}

func (this *TensorRam) ByteReadData() int8 {
	return this.byte_read_data
}

// SetWrite presents a single-byte write request addressed in bytes.
func (this *TensorRam) SetWrite(valid bool, byte_address int, bank int, data int8) {
	this.write_req_valid = valid
	this.write_req_addr = byte_address
	this.write_req_bank = bank
	this.write_req_data = data
}

func (this *TensorRam) Cycle() {
	if this.write_req_valid {
		this.checkBank(this.write_req_bank)
		this.storeByte(this.write_req_bank, this.write_req_addr, this.write_req_data)
		this.stat_factory.Increment("byte_writes", 1)
	}

	if this.read_req_valid {
		this.checkBank(this.read_req_bank)

		if this.read_req_addr < 0 || this.read_req_addr+4 > this.num_words {
			err := fmt.Errorf(
				"tensor RAM read word address %d is out of range (%d words)",
				this.read_req_addr,
				this.num_words,
			)
			panic(err)
		}

		for i := 0; i < 4; i++ {
			this.read_data[i] = this.banks[this.read_req_bank][this.read_req_addr+i]
		}
		this.read_data_valid = true
		this.stat_factory.Increment("wide_reads", 1)
	} else {
		this.read_data_valid = false
	}

	if this.byte_read_req_valid {
		this.checkBank(this.byte_read_req_bank)
		this.byte_read_data = this.loadByte(this.byte_read_req_bank, this.byte_read_req_addr)
		this.byte_read_data_valid = true
		this.stat_factory.Increment("byte_reads", 1)
	} else {
		this.byte_read_data_valid = false
	}

	this.read_req_valid = false
	this.byte_read_req_valid = false
	this.write_req_valid = false
}

// PeekByte reads a byte without going through a port.  Tests and end-of-run
// dumps use it; the datapath does not.
func (this *TensorRam) PeekByte(bank int, byte_address int) int8 {
	this.checkBank(bank)
	return this.loadByte(bank, byte_address)
}

func (this *TensorRam) storeByte(bank int, byte_address int, data int8) {
	word_address := byte_address / 4
	byte_offset := byte_address % 4

	if byte_address < 0 || word_address >= this.num_words {
		err := fmt.Errorf(
			"tensor RAM write byte address %d is out of range (%d words)",
			byte_address,
			this.num_words,
		)
		panic(err)
	}

	word := this.banks[bank][word_address]
	word &= ^(uint32(0xff) << uint(8*byte_offset))
	word |= uint32(uint8(data)) << uint(8*byte_offset)
	this.banks[bank][word_address] = word
}

func (this *TensorRam) loadByte(bank int, byte_address int) int8 {
	word_address := byte_address / 4
	byte_offset := byte_address % 4

	if byte_address < 0 || word_address >= this.num_words {
		err := fmt.Errorf(
			"tensor RAM read byte address %d is out of range (%d words)",
			byte_address,
			this.num_words,
		)
		panic(err)
	}

	word := this.banks[bank][word_address]
	return int8(uint8(word >> uint(8*byte_offset)))
}

func (this *TensorRam) checkBank(bank int) {
	if bank != 0 && bank != 1 {
		err := fmt.Errorf("tensor RAM bank %d is out of range", bank)
		panic(err)
	}
}

// TensorByteAddress maps a (row, col, channel) coordinate of a tensor with
// the given width and channel-group count to its byte address.
func TensorByteAddress(row int, col int, channel int, width int, channel_groups int) int {
	group := channel / misc.ChannelGroupSize
	offset := channel % misc.ChannelGroupSize
	return ((row*width+col)*channel_groups+group)*4 + offset
}
