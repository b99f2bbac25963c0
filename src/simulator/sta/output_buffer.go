package sta

import (
	"fmt"

	"tinytpu/src/misc"
)

// Result is one coordinate-tagged accumulator value in flight between the
// array and the requantizer. The tag is attached when the coordinator drains
// the C matrix and must reach the pooling stage unchanged.
type Result struct {
	Row   int
	Col   int
	Value int32
}

// Write is one output-buffer write port for a cycle.
type Write struct {
	Valid  bool
	Result Result
}

// OutputBuffer is the small FIFO between the array drain and the
// requantizer: depth equal to the array width, four write ports and one read
// port. Writes pack contiguously from the write pointer. When the buffer is
// empty and the consumer asks for data in the same cycle a value arrives,
// that value bypasses storage and is presented directly.
//
// Overflow means the static backpressure contract was broken and panics;
// a consume request on an empty, writeless cycle simply yields no output.
type OutputBuffer struct {
	entries [misc.SaN]Result
	rdPtr   int
	count   int

	cycle int

	// input ports
	inWrites  [misc.SaN]Write
	inConsume bool

	// registered outputs
	outValid bool
	outEntry Result
}

func NewOutputBuffer() *OutputBuffer {
	b := &OutputBuffer{}
	b.Reset()
	return b
}

func (b *OutputBuffer) Reset() {
	b.entries = [misc.SaN]Result{}
	b.rdPtr = 0
	b.count = 0
	b.cycle = 0

	b.inWrites = [misc.SaN]Write{}
	b.inConsume = false

	b.outValid = false
	b.outEntry = Result{}
}

// SetWrites presents up to four writes for this cycle.
func (b *OutputBuffer) SetWrites(writes [misc.SaN]Write) {
	b.inWrites = writes
}

// SetConsume asks for one entry this cycle.
func (b *OutputBuffer) SetConsume(consume bool) {
	b.inConsume = consume
}

func (b *OutputBuffer) OutValid() bool {
	return b.outValid
}

func (b *OutputBuffer) OutEntry() Result {
	return b.outEntry
}

func (b *OutputBuffer) Count() int {
	return b.count
}

func (b *OutputBuffer) Empty() bool {
	return b.count == 0
}

func (b *OutputBuffer) Cycle() {
	b.cycle++

	bypassed := -1

	if b.inConsume && b.count > 0 {
		b.outValid = true
		b.outEntry = b.entries[b.rdPtr]
		b.rdPtr = (b.rdPtr + 1) % misc.SaN
		b.count--
	} else if b.inConsume {
		b.outValid = false
		for port, write := range b.inWrites {
			if write.Valid {
				b.outValid = true
				b.outEntry = write.Result
				bypassed = port
				break
			}
		}
	} else {
		b.outValid = false
	}

	for port, write := range b.inWrites {
		if !write.Valid || port == bypassed {
			continue
		}
		if b.count == misc.SaN {
			panic(fmt.Errorf("array output buffer overflow at cycle %d", b.cycle))
		}
		b.entries[(b.rdPtr+b.count)%misc.SaN] = write.Result
		b.count++
	}

	b.inWrites = [misc.SaN]Write{}
	b.inConsume = false
}
