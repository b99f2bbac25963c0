// Package sta models the systolic tensor array and its drain path: the 4x4
// output-stationary PE grid, the coordinator that walks the finished C
// matrix, and the small tagged FIFO between the array and the requantizer.
package sta

import (
	"tinytpu/src/misc"
	"tinytpu/src/simulator/quant"
)

// pe is one multiply-accumulate cell. Activations enter from the left and
// shift right, weights enter from the top and shift down; the accumulator
// stays put, so PE (r,c) ends a tile holding the output pixel (r,c) of the
// current block.
type pe struct {
	aReg   uint32
	aValid bool
	bReg   uint32
	bValid bool
	acc    int32
}

// Array is the 4x4 systolic grid. Accumulators survive across channel-group
// passes; they are only (re)initialized by the bias broadcast, which doubles
// as the per-tile clear. A stall freezes shifting and accumulation.
type Array struct {
	grid [misc.SaN][misc.SaN]pe

	// input ports
	inA        [misc.SaN]uint32
	inAValid   [misc.SaN]bool
	inB        [misc.SaN]uint32
	inBValid   [misc.SaN]bool
	inLoadBias bool
	inBias     int32
	inStall    bool
}

func NewArray() *Array {
	a := &Array{}
	a.Reset()
	return a
}

// Reset clears every register, including the accumulators.
func (a *Array) Reset() {
	a.grid = [misc.SaN][misc.SaN]pe{}
	a.inA = [misc.SaN]uint32{}
	a.inAValid = [misc.SaN]bool{}
	a.inB = [misc.SaN]uint32{}
	a.inBValid = [misc.SaN]bool{}
	a.inLoadBias = false
	a.inStall = false
}

// SetA presents the four activation row streams for this cycle.
func (a *Array) SetA(lanes [misc.SaN]uint32, valid [misc.SaN]bool) {
	a.inA = lanes
	a.inAValid = valid
}

// SetB presents the four weight column streams for this cycle.
func (a *Array) SetB(lanes [misc.SaN]uint32, valid [misc.SaN]bool) {
	a.inB = lanes
	a.inBValid = valid
}

// SetLoadBias broadcasts one bias value into all sixteen accumulators.
func (a *Array) SetLoadBias(load bool, bias int32) {
	a.inLoadBias = load
	a.inBias = bias
}

func (a *Array) SetStall(stall bool) {
	a.inStall = stall
}

// C returns the accumulator matrix as committed by the previous cycle.
func (a *Array) C() [misc.SaN][misc.SaN]int32 {
	var c [misc.SaN][misc.SaN]int32
	for r := 0; r < misc.SaN; r++ {
		for col := 0; col < misc.SaN; col++ {
			c[r][col] = a.grid[r][col].acc
		}
	}
	return c
}

// Busy reports whether any operand is still shifting through the grid.
func (a *Array) Busy() bool {
	for r := 0; r < misc.SaN; r++ {
		for col := 0; col < misc.SaN; col++ {
			if a.grid[r][col].aValid || a.grid[r][col].bValid {
				return true
			}
		}
	}
	return false
}

func (a *Array) Cycle() {
	if a.inStall {
		a.clearInputs()
		return
	}

	if a.inLoadBias {
		for r := 0; r < misc.SaN; r++ {
			for col := 0; col < misc.SaN; col++ {
				a.grid[r][col].acc = a.inBias
			}
		}
	}

	// Compute every PE's incoming operands from the committed registers,
	// then commit all at once, matching the flip-flop semantics of the
	// grid.
	var next [misc.SaN][misc.SaN]pe
	for r := 0; r < misc.SaN; r++ {
		for col := 0; col < misc.SaN; col++ {
			var cell pe

			if col == 0 {
				cell.aReg = a.inA[r]
				cell.aValid = a.inAValid[r]
			} else {
				cell.aReg = a.grid[r][col-1].aReg
				cell.aValid = a.grid[r][col-1].aValid
			}

			if r == 0 {
				cell.bReg = a.inB[col]
				cell.bValid = a.inBValid[col]
			} else {
				cell.bReg = a.grid[r-1][col].bReg
				cell.bValid = a.grid[r-1][col].bValid
			}

			cell.acc = a.grid[r][col].acc
			if cell.aValid && cell.bValid {
				cell.acc += quant.Dot4(quant.UnpackGroup(cell.aReg), quant.UnpackGroup(cell.bReg))
			}

			next[r][col] = cell
		}
	}
	a.grid = next

	a.clearInputs()
}

func (a *Array) clearInputs() {
	a.inA = [misc.SaN]uint32{}
	a.inAValid = [misc.SaN]bool{}
	a.inB = [misc.SaN]uint32{}
	a.inBValid = [misc.SaN]bool{}
	a.inLoadBias = false
	a.inStall = false
}
