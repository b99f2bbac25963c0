package pool

import (
	"fmt"

	"tinytpu/src/misc"
)

// MaxpoolUnit performs streaming 2x2 max pooling over one 4x4 output tile.
// Incoming activations land in a scratch grid indexed by their coordinate
// tag relative to the tile origin; whenever a 2x2 block becomes fully valid
// its maximum is emitted, tagged with the block's top-left absolute
// coordinate, and just that block's valid bits are cleared. Arrival order
// across lanes does not matter as long as the tags are right.
//
// In bypass mode (dense layers) the first valid input lane is routed
// straight to the output. Only one lane survives per cycle; the loss is
// accepted, the dense path never presents more than one.
type MaxpoolUnit struct {
	posRow int
	posCol int

	grid  [misc.SaN][misc.SaN]int8
	valid [misc.SaN][misc.SaN]bool

	bypass bool
	cycle  int

	// input ports
	inValid [misc.SaN]bool
	inLanes [misc.SaN]Quantized

	// registered outputs
	outValid bool
	outEntry Quantized
}

func NewMaxpoolUnit() *MaxpoolUnit {
	m := &MaxpoolUnit{}
	m.Reset()
	return m
}

func (m *MaxpoolUnit) Reset() {
	m.posRow = 0
	m.posCol = 0
	m.grid = [misc.SaN][misc.SaN]int8{}
	m.valid = [misc.SaN][misc.SaN]bool{}
	m.bypass = false
	m.cycle = 0

	m.inValid = [misc.SaN]bool{}

	m.outValid = false
	m.outEntry = Quantized{}
}

// Configure sets the tile origin the coordinate tags are measured against
// and whether pooling is bypassed. Any scratch state is discarded.
func (m *MaxpoolUnit) Configure(posRow int, posCol int, bypass bool) {
	m.posRow = posRow
	m.posCol = posCol
	m.bypass = bypass
	m.grid = [misc.SaN][misc.SaN]int8{}
	m.valid = [misc.SaN][misc.SaN]bool{}
}

// SetLane presents one requantized activation on a lane for this cycle.
func (m *MaxpoolUnit) SetLane(lane int, valid bool, entry Quantized) {
	m.inValid[lane] = valid
	m.inLanes[lane] = entry
}

func (m *MaxpoolUnit) OutValid() bool {
	return m.outValid
}

// Out returns the pooled (or bypassed) activation committed this cycle. The
// tag is the pooling block's top-left coordinate in the layer's input space.
func (m *MaxpoolUnit) Out() Quantized {
	return m.outEntry
}

// Idle reports that no scratch cell is valid and no output is pending.
func (m *MaxpoolUnit) Idle() bool {
	if m.outValid {
		return false
	}
	for r := 0; r < misc.SaN; r++ {
		for c := 0; c < misc.SaN; c++ {
			if m.valid[r][c] {
				return false
			}
		}
	}
	return true
}

func (m *MaxpoolUnit) Cycle() {
	m.cycle++

	if m.bypass {
		m.outValid = false
		for lane := 0; lane < misc.SaN; lane++ {
			if m.inValid[lane] {
				m.outValid = true
				m.outEntry = m.inLanes[lane]
				break
			}
		}
		m.inValid = [misc.SaN]bool{}
		return
	}

	for lane := 0; lane < misc.SaN; lane++ {
		if !m.inValid[lane] {
			continue
		}

		entry := m.inLanes[lane]
		r := entry.Row - m.posRow
		c := entry.Col - m.posCol
		if r < 0 || r >= misc.SaN || c < 0 || c >= misc.SaN {
			panic(fmt.Errorf(
				"maxpool: tag (%d,%d) outside tile at (%d,%d) at cycle %d",
				entry.Row, entry.Col, m.posRow, m.posCol, m.cycle,
			))
		}

		m.grid[r][c] = entry.Value
		m.valid[r][c] = true
	}

	m.outValid = false
	for br := 0; br+misc.PoolSize <= misc.SaN; br += misc.PoolSize {
		for bc := 0; bc+misc.PoolSize <= misc.SaN; bc += misc.PoolSize {
			if !m.blockValid(br, bc) {
				continue
			}

			m.outValid = true
			m.outEntry = Quantized{
				Row:   m.posRow + br,
				Col:   m.posCol + bc,
				Value: m.blockMax(br, bc),
			}
			m.clearBlock(br, bc)

			m.inValid = [misc.SaN]bool{}
			return
		}
	}

	m.inValid = [misc.SaN]bool{}
}

func (m *MaxpoolUnit) blockValid(br int, bc int) bool {
	for r := br; r < br+misc.PoolSize; r++ {
		for c := bc; c < bc+misc.PoolSize; c++ {
			if !m.valid[r][c] {
				return false
			}
		}
	}
	return true
}

func (m *MaxpoolUnit) blockMax(br int, bc int) int8 {
	max := m.grid[br][bc]
	for r := br; r < br+misc.PoolSize; r++ {
		for c := bc; c < bc+misc.PoolSize; c++ {
			if m.grid[r][c] > max {
				max = m.grid[r][c]
			}
		}
	}
	return max
}

func (m *MaxpoolUnit) clearBlock(br int, bc int) {
	for r := br; r < br+misc.PoolSize; r++ {
		for c := bc; c < bc+misc.PoolSize; c++ {
			m.valid[r][c] = false
		}
	}
}
