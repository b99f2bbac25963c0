// Package buffer models the activation-side front end of the datapath: the
// unified buffer that extracts padded patches from tensor RAM and the spatial
// data formatter that skews them into systolic row streams.
package buffer

import (
	"fmt"

	"tinytpu/src/misc"
)

type extractorState int

const (
	extractorIdle extractorState = iota
	extractorLoadingBlock
	extractorBlockReady
	extractorWaitNextSpatial
	extractorComplete
)

func (s extractorState) String() string {
	switch s {
	case extractorIdle:
		return "IDLE"
	case extractorLoadingBlock:
		return "LOADING_BLOCK"
	case extractorBlockReady:
		return "BLOCK_READY"
	case extractorWaitNextSpatial:
		return "WAIT_NEXT_SPATIAL"
	case extractorComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// inflightRead tracks one RAM request that has been issued but whose data has
// not come back yet. The RAM round trip is two cycles, so at most two reads
// are outstanding at a time.
type inflightRead struct {
	bufRow     int
	bufCol     int
	wordOffset int
}

// UnifiedBuffer walks the spatial block positions of one layer and, for each
// (block, channel group) pair, streams a 7x7 window of pixel groups from
// tensor RAM into its patch buffer. Cells outside the unpadded image are
// filled with zero directly, without a RAM access. The read port of the RAM
// is registered, so the extractor keeps up to two reads in flight.
//
// All getters return state committed by the previous Cycle call; inputs are
// presented through the Set methods before Cycle.
type UnifiedBuffer struct {
	layer misc.LayerDescriptor

	state        extractorState
	blockRow     int
	blockCol     int
	channelGroup int

	issueRow int
	issueCol int
	inflight []inflightRead

	patch [misc.PatchSize][misc.PatchSize]uint32

	cycle int

	// input ports
	inStart            bool
	inNextChannelGroup bool
	inNextSpatialBlock bool
	inRamDataValid     bool
	inRamData          [4]uint32

	// registered outputs
	outRamReadValid bool
	outRamReadAddr  int
	outPatchesValid bool
	outComplete     bool
}

// NewUnifiedBuffer builds an extractor for one layer. The layer geometry is
// validated here so a bad descriptor fails at construction rather than as an
// out-of-range RAM address mid-run.
func NewUnifiedBuffer(layer misc.LayerDescriptor) *UnifiedBuffer {
	if layer.Kind != misc.LayerKindConv {
		panic(fmt.Errorf("unified buffer requires a conv layer descriptor"))
	}
	if layer.ImgWidth <= 0 || layer.ImgHeight <= 0 {
		panic(fmt.Errorf("unified buffer image %dx%d is invalid", layer.ImgWidth, layer.ImgHeight))
	}
	if layer.PadTop+layer.ImgHeight+layer.PadBottom < misc.PatchSize ||
		layer.PadLeft+layer.ImgWidth+layer.PadRight < misc.PatchSize {
		panic(fmt.Errorf(
			"unified buffer padded image %dx%d is smaller than the %d-wide patch",
			layer.PadTop+layer.ImgHeight+layer.PadBottom,
			layer.PadLeft+layer.ImgWidth+layer.PadRight,
			misc.PatchSize,
		))
	}

	u := &UnifiedBuffer{layer: layer}
	u.Reset()
	return u
}

// Reset returns the extractor to IDLE and discards any in-flight reads.
func (u *UnifiedBuffer) Reset() {
	u.state = extractorIdle
	u.blockRow = -u.layer.PadTop
	u.blockCol = -u.layer.PadLeft
	u.channelGroup = 0
	u.issueRow = 0
	u.issueCol = 0
	u.inflight = u.inflight[:0]
	u.patch = [misc.PatchSize][misc.PatchSize]uint32{}
	u.cycle = 0

	u.inStart = false
	u.inNextChannelGroup = false
	u.inNextSpatialBlock = false
	u.inRamDataValid = false

	u.outRamReadValid = false
	u.outRamReadAddr = 0
	u.outPatchesValid = false
	u.outComplete = false
}

// SetStartExtraction arms the extractor; the first block is loaded on the
// next cycle.
func (u *UnifiedBuffer) SetStartExtraction(start bool) {
	u.inStart = start
}

// SetNextChannelGroup acknowledges the current patch. While more channel
// groups remain for this block the extractor reloads with the next group;
// after the last group it parks in WAIT_NEXT_SPATIAL, from where another
// acknowledgment replays the groups from zero for the next output-channel
// pass.
func (u *UnifiedBuffer) SetNextChannelGroup(next bool) {
	u.inNextChannelGroup = next
}

// SetNextSpatialBlock advances to the next block position in raster order.
func (u *UnifiedBuffer) SetNextSpatialBlock(next bool) {
	u.inNextSpatialBlock = next
}

// SetRamData presents the tensor RAM wide-read response for this cycle.
func (u *UnifiedBuffer) SetRamData(valid bool, data [4]uint32) {
	u.inRamDataValid = valid
	u.inRamData = data
}

// RamReadValid reports whether a wide read request is being presented to the
// tensor RAM this cycle.
func (u *UnifiedBuffer) RamReadValid() bool {
	return u.outRamReadValid
}

// RamReadAddress returns the 32-bit-word address of the current request. The
// address is aligned down to the RAM's four-word line.
func (u *UnifiedBuffer) RamReadAddress() int {
	return u.outRamReadAddr
}

// PatchesValid reports that the patch buffer holds a complete window.
func (u *UnifiedBuffer) PatchesValid() bool {
	return u.outPatchesValid
}

// Patch returns the current 7x7 window of pixel groups.
func (u *UnifiedBuffer) Patch() [misc.PatchSize][misc.PatchSize]uint32 {
	return u.patch
}

// ExtractionComplete reports that every spatial block has been delivered.
func (u *UnifiedBuffer) ExtractionComplete() bool {
	return u.outComplete
}

// BlockStartRow returns the padded-space row of the current block origin.
func (u *UnifiedBuffer) BlockStartRow() int {
	return u.blockRow
}

// BlockStartCol returns the padded-space column of the current block origin.
func (u *UnifiedBuffer) BlockStartCol() int {
	return u.blockCol
}

// ChannelGroup returns the input channel group held in the patch buffer.
func (u *UnifiedBuffer) ChannelGroup() int {
	return u.channelGroup
}

func (u *UnifiedBuffer) Cycle() {
	u.cycle++

	u.acceptRamData()

	switch u.state {
	case extractorIdle:
		u.outRamReadValid = false
		if u.inStart {
			u.beginBlock()
		}

	case extractorLoadingBlock:
		u.loadCells()

	case extractorBlockReady:
		u.outRamReadValid = false
		if u.inNextChannelGroup {
			u.outPatchesValid = false
			if u.channelGroup+1 < u.layer.ChannelGroups() {
				u.channelGroup++
				u.beginBlock()
			} else {
				u.state = extractorWaitNextSpatial
			}
		}

	case extractorWaitNextSpatial:
		u.outRamReadValid = false
		if u.inNextSpatialBlock {
			u.advanceSpatial()
		} else if u.inNextChannelGroup {
			u.channelGroup = 0
			u.beginBlock()
		}

	case extractorComplete:
		u.outRamReadValid = false
		u.outComplete = true
		if u.inStart {
			u.Reset()
			u.cycle = 1
			u.beginBlock()
		}
	}

	u.inStart = false
	u.inNextChannelGroup = false
	u.inNextSpatialBlock = false
	u.inRamDataValid = false
}

func (u *UnifiedBuffer) beginBlock() {
	u.state = extractorLoadingBlock
	u.issueRow = 0
	u.issueCol = 0
	u.inflight = u.inflight[:0]
	u.outPatchesValid = false
	u.loadCells()
}

// acceptRamData retires the oldest in-flight read with the word that came
// back from the RAM this cycle.
func (u *UnifiedBuffer) acceptRamData() {
	if !u.inRamDataValid {
		return
	}

	if len(u.inflight) == 0 {
		panic(fmt.Errorf("unified buffer: RAM data with no read in flight at cycle %d", u.cycle))
	}

	read := u.inflight[0]
	u.inflight = u.inflight[:copy(u.inflight, u.inflight[1:])]
	u.patch[read.bufRow][read.bufCol] = u.inRamData[read.wordOffset]
}

// loadCells resolves padding cells for free and issues at most one RAM read
// per cycle, keeping no more than two reads outstanding.
func (u *UnifiedBuffer) loadCells() {
	u.outRamReadValid = false

	for u.issueRow < misc.PatchSize {
		actualRow := u.blockRow + u.issueRow
		actualCol := u.blockCol + u.issueCol

		if actualRow < 0 || actualRow >= u.layer.ImgHeight ||
			actualCol < 0 || actualCol >= u.layer.ImgWidth {
			u.patch[u.issueRow][u.issueCol] = 0
			u.advanceIssue()
			continue
		}

		if len(u.inflight) >= 2 {
			return
		}

		word := (actualRow*u.layer.ImgWidth+actualCol)*u.layer.ChannelGroups() + u.channelGroup
		u.outRamReadValid = true
		u.outRamReadAddr = word &^ 3
		u.inflight = append(u.inflight, inflightRead{
			bufRow:     u.issueRow,
			bufCol:     u.issueCol,
			wordOffset: word & 3,
		})
		u.advanceIssue()
		return
	}

	if len(u.inflight) == 0 {
		u.state = extractorBlockReady
		u.outPatchesValid = true
	}
}

func (u *UnifiedBuffer) advanceIssue() {
	u.issueCol++
	if u.issueCol == misc.PatchSize {
		u.issueCol = 0
		u.issueRow++
	}
}

// advanceSpatial steps the block origin by the stride, wrapping the column at
// the padded right edge and finishing after the padded bottom edge.
func (u *UnifiedBuffer) advanceSpatial() {
	u.channelGroup = 0

	u.blockCol += misc.BlockStride
	if u.blockCol+misc.PatchSize > u.layer.ImgWidth+u.layer.PadRight {
		u.blockCol = -u.layer.PadLeft
		u.blockRow += misc.BlockStride
		if u.blockRow+misc.PatchSize > u.layer.ImgHeight+u.layer.PadBottom {
			u.state = extractorComplete
			u.outComplete = true
			return
		}
	}

	u.beginBlock()
}

// NumSpatialBlocks returns how many block positions the extractor will visit
// along one axis, given the image extent and padding on that axis.
func NumSpatialBlocks(img int, padBefore int, padAfter int) int {
	count := 0
	for start := -padBefore; start+misc.PatchSize <= img+padAfter; start += misc.BlockStride {
		count++
	}
	return count
}
