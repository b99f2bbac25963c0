// Package weight models the weight loader: the state machine that sequences
// weight-ROM reads into a kernel buffer and drives the four weight columns of
// the systolic array with the skew the array's wavefront expects.
package weight

import (
	"fmt"

	"tinytpu/src/misc"
)

type loaderState int

const (
	loaderIdle loaderState = iota
	loaderFetch
	loaderReady
	loaderStream
	loaderDone
)

type columnState int

const (
	columnIdle columnState = iota
	columnDelay
	columnWeightPhase
	columnZeroPhase
	columnDone
)

// column is the per-output-column sub-FSM. Each column replays the same
// buffered kernel, offset in time: column c enters its weight phase 2c cycles
// after column 0, one cycle of wavefront skew per array column plus one cycle
// per output-pixel column offset. With a single delay per column every array
// column would end up computing the same output pixel.
type column struct {
	state     columnState
	delay     int
	kernelRow int
	phase     int
}

func (c *column) arm(index int) {
	c.kernelRow = 0
	c.phase = 0
	if index == 0 {
		c.state = columnWeightPhase
	} else {
		c.state = columnDelay
		c.delay = 2 * index
	}
}

// Loader buffers one input-channel group's 4x4 kernel (one ROM row per
// kernel row, four packed channels per word) and streams it into the array's
// weight columns: per kernel row, four weight cycles followed by three zero
// cycles, matching the seven-column patch stream on the activation side.
//
// The main state machine walks every input-channel group of the requested
// output channel. Each group is fetched as soon as the previous one finishes
// streaming; the datapath launches the stream itself with SetStreamStart so
// weights and activations enter the array on the same cycle.
type Loader struct {
	layer   misc.LayerDescriptor
	baseRow int

	state         loaderState
	outputChannel int
	group         int

	fetchIssue int
	inflight   []int
	kernel     [misc.KernelSize][4]uint32

	columns [misc.SaN]column

	cycle int

	// input ports
	inStart       bool
	inStartOutCh  int
	inStreamStart bool
	inStall       bool
	inRomValid    bool
	inRomRow      [4]uint32

	// registered outputs
	outRomReadValid bool
	outRomReadAddr  int
	outLanes        [misc.SaN]uint32
	outLanesValid   [misc.SaN]bool
	outWeightsReady bool
	outGroupDone    bool
	outLoadComplete bool
}

func NewLoader(layer misc.LayerDescriptor, baseRow int) *Loader {
	if layer.Kind != misc.LayerKindConv {
		panic(fmt.Errorf("weight loader requires a conv layer descriptor"))
	}
	if baseRow < 0 {
		panic(fmt.Errorf("weight loader base row %d is negative", baseRow))
	}

	l := &Loader{layer: layer, baseRow: baseRow}
	l.Reset()
	return l
}

// Reset discards any buffered kernel and in-flight fetches.
func (l *Loader) Reset() {
	l.state = loaderIdle
	l.outputChannel = 0
	l.group = 0
	l.fetchIssue = 0
	l.inflight = l.inflight[:0]
	l.kernel = [misc.KernelSize][4]uint32{}
	for i := range l.columns {
		l.columns[i] = column{}
	}
	l.cycle = 0

	l.inStart = false
	l.inStreamStart = false
	l.inStall = false
	l.inRomValid = false

	l.outRomReadValid = false
	l.outRomReadAddr = 0
	l.outLanes = [misc.SaN]uint32{}
	l.outLanesValid = [misc.SaN]bool{}
	l.outWeightsReady = false
	l.outGroupDone = false
	l.outLoadComplete = false
}

// SetStart begins a load sequence for one output channel of the layer.
func (l *Loader) SetStart(start bool, outputChannel int) {
	l.inStart = start
	l.inStartOutCh = outputChannel
}

// SetStreamStart launches the column streams for the buffered group. Only
// honored while WeightsReady is asserted.
func (l *Loader) SetStreamStart(start bool) {
	l.inStreamStart = start
}

// SetStall freezes every counter for the cycle without losing state.
func (l *Loader) SetStall(stall bool) {
	l.inStall = stall
}

// SetRomData presents the weight ROM response for this cycle.
func (l *Loader) SetRomData(valid bool, row [4]uint32) {
	l.inRomValid = valid
	l.inRomRow = row
}

func (l *Loader) RomReadValid() bool {
	return l.outRomReadValid
}

func (l *Loader) RomReadAddress() int {
	return l.outRomReadAddr
}

// Lanes returns the four weight column streams, one packed channel word each.
func (l *Loader) Lanes() [misc.SaN]uint32 {
	return l.outLanes
}

func (l *Loader) LanesValid() [misc.SaN]bool {
	return l.outLanesValid
}

// WeightsReady reports that the current group's kernel is buffered and the
// stream can be launched.
func (l *Loader) WeightsReady() bool {
	return l.outWeightsReady
}

// GroupStreamDone pulses for one cycle when every column has drained the
// current group.
func (l *Loader) GroupStreamDone() bool {
	return l.outGroupDone
}

// LoadComplete reports that all channel groups of the requested output
// channel have been streamed.
func (l *Loader) LoadComplete() bool {
	return l.outLoadComplete
}

// Group returns the input-channel group currently buffered or streaming.
func (l *Loader) Group() int {
	return l.group
}

func (l *Loader) Cycle() {
	l.cycle++

	if l.inStall {
		// A response already in flight is still captured; only the
		// counters and the request line freeze.
		l.acceptRomData()
		l.outRomReadValid = false
		l.clearInputs()
		return
	}

	l.outGroupDone = false
	l.acceptRomData()

	switch l.state {
	case loaderIdle:
		l.outRomReadValid = false
		if l.inStart {
			l.begin(l.inStartOutCh)
		}

	case loaderFetch:
		l.fetchRows()

	case loaderReady:
		l.outRomReadValid = false
		if l.inStreamStart {
			l.outWeightsReady = false
			l.state = loaderStream
			for i := range l.columns {
				l.columns[i].arm(i)
			}
			l.stepColumns()
		}

	case loaderStream:
		l.stepColumns()

	case loaderDone:
		l.outRomReadValid = false
		l.outLoadComplete = true
		if l.inStart {
			l.Reset()
			l.cycle = 1
			l.begin(l.inStartOutCh)
		}
	}

	l.clearInputs()
}

func (l *Loader) clearInputs() {
	l.inStart = false
	l.inStreamStart = false
	l.inStall = false
	l.inRomValid = false
}

func (l *Loader) begin(outputChannel int) {
	if outputChannel < 0 || outputChannel >= l.layer.OutputChannels {
		panic(fmt.Errorf(
			"weight loader output channel %d is out of range (%d channels)",
			outputChannel,
			l.layer.OutputChannels,
		))
	}

	l.outputChannel = outputChannel
	l.group = 0
	l.outLoadComplete = false
	l.beginFetch()
}

func (l *Loader) beginFetch() {
	l.state = loaderFetch
	l.fetchIssue = 0
	l.inflight = l.inflight[:0]
	l.fetchRows()
}

// fetchRows issues one ROM read per cycle, one kernel row at a time, with at
// most two reads outstanding.
func (l *Loader) fetchRows() {
	l.outRomReadValid = false

	if l.fetchIssue < misc.KernelSize && len(l.inflight) < 2 {
		groups := l.layer.ChannelGroups()
		address := l.baseRow + l.outputChannel*misc.KernelSize*groups + l.group*misc.KernelSize + l.fetchIssue

		l.outRomReadValid = true
		l.outRomReadAddr = address
		l.inflight = append(l.inflight, l.fetchIssue)
		l.fetchIssue++
		return
	}

	if l.fetchIssue == misc.KernelSize && len(l.inflight) == 0 {
		l.state = loaderReady
		l.outWeightsReady = true
	}
}

func (l *Loader) acceptRomData() {
	if !l.inRomValid {
		return
	}

	if len(l.inflight) == 0 {
		panic(fmt.Errorf("weight loader: ROM data with no read in flight at cycle %d", l.cycle))
	}

	kernelRow := l.inflight[0]
	l.inflight = l.inflight[:copy(l.inflight, l.inflight[1:])]

	row := l.inRomRow
	if l.layer.InputChannels == 1 {
		// One real channel: only byte 0 of each word carries a weight.
		for i := range row {
			row[i] &= 0xff
		}
	}
	l.kernel[kernelRow] = row
}

func (l *Loader) stepColumns() {
	done := true

	for i := range l.columns {
		col := &l.columns[i]

		switch col.state {
		case columnDelay:
			l.outLanes[i] = 0
			l.outLanesValid[i] = false
			col.delay--
			if col.delay == 0 {
				col.state = columnWeightPhase
			}
			done = false

		case columnWeightPhase:
			l.outLanes[i] = l.kernel[col.kernelRow][col.phase]
			l.outLanesValid[i] = true
			col.phase++
			if col.phase == misc.KernelSize {
				col.state = columnZeroPhase
				col.phase = 0
			}
			done = false

		case columnZeroPhase:
			l.outLanes[i] = 0
			l.outLanesValid[i] = true
			col.phase++
			if col.phase == misc.PatchSize-misc.KernelSize {
				col.phase = 0
				if col.kernelRow == misc.KernelSize-1 {
					col.state = columnDone
				} else {
					col.kernelRow++
					col.state = columnWeightPhase
					done = false
				}
			} else {
				done = false
			}

		default:
			l.outLanes[i] = 0
			l.outLanesValid[i] = false
		}
	}

	if done {
		l.outGroupDone = true
		l.group++
		if l.group < l.layer.ChannelGroups() {
			l.beginFetch()
		} else {
			l.state = loaderDone
			l.outLoadComplete = true
		}
	}
}
