package sta

import (
	"tinytpu/src/misc"
)

// OutputCoordinator walks a finished C matrix one row per cycle and hands
// the four values of that row to the output buffer, tagged with absolute
// coordinates: the block origin plus the PE's local offset. It only advances
// on cycles where the buffer is empty, so a full row always fits.
type OutputCoordinator struct {
	draining bool
	settling bool
	rowIdx   int
	matrix   [misc.SaN][misc.SaN]int32
	posRow   int
	posCol   int

	// input ports
	inStart       bool
	inC           [misc.SaN][misc.SaN]int32
	inPosRow      int
	inPosCol      int
	inBufferEmpty bool

	// registered outputs
	outWrites [misc.SaN]Write
	outDone   bool
}

func NewOutputCoordinator() *OutputCoordinator {
	c := &OutputCoordinator{}
	c.Reset()
	return c
}

func (c *OutputCoordinator) Reset() {
	c.draining = false
	c.settling = false
	c.rowIdx = 0
	c.matrix = [misc.SaN][misc.SaN]int32{}
	c.posRow = 0
	c.posCol = 0

	c.inStart = false
	c.inBufferEmpty = false

	c.outWrites = [misc.SaN]Write{}
	c.outDone = false
}

// SetStartDrain latches the C matrix and the block origin and begins the
// walk. The caller asserts it once the array is idle for the tile.
func (c *OutputCoordinator) SetStartDrain(start bool, matrix [misc.SaN][misc.SaN]int32, posRow int, posCol int) {
	c.inStart = start
	c.inC = matrix
	c.inPosRow = posRow
	c.inPosCol = posCol
}

// SetBufferEmpty presents the output buffer's occupancy for this cycle.
func (c *OutputCoordinator) SetBufferEmpty(empty bool) {
	c.inBufferEmpty = empty
}

// Writes returns the four write ports driven this cycle.
func (c *OutputCoordinator) Writes() [misc.SaN]Write {
	return c.outWrites
}

// Done pulses for one cycle after the last row has been emitted.
func (c *OutputCoordinator) Done() bool {
	return c.outDone
}

func (c *OutputCoordinator) Busy() bool {
	return c.draining
}

func (c *OutputCoordinator) Cycle() {
	c.outDone = false
	c.outWrites = [misc.SaN]Write{}

	if !c.draining {
		if c.inStart {
			c.draining = true
			c.rowIdx = 0
			c.matrix = c.inC
			c.posRow = c.inPosRow
			c.posCol = c.inPosCol
		}
	}

	if c.settling {
		// The previous row's writes are still in flight to the buffer;
		// the occupancy sampled this cycle predates them.
		c.settling = false
	} else if c.draining && c.inBufferEmpty {
		for col := 0; col < misc.SaN; col++ {
			c.outWrites[col] = Write{
				Valid: true,
				Result: Result{
					Row:   c.posRow + c.rowIdx,
					Col:   c.posCol + col,
					Value: c.matrix[c.rowIdx][col],
				},
			}
		}

		c.rowIdx++
		if c.rowIdx == misc.SaN {
			c.draining = false
			c.outDone = true
		} else {
			c.settling = true
		}
	}

	c.inStart = false
	c.inBufferEmpty = false
}
