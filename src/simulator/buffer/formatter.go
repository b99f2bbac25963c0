package buffer

import (
	"tinytpu/src/misc"
)

// formatterElems is how many pixel groups each lane streams per run: the four
// valid 4-row window positions of the 7x7 patch, seven columns each.
const formatterElems = (misc.SaN) * misc.PatchSize

// SpatialDataFormatter turns the 7x7 patch buffer into the four staggered row
// streams the systolic array expects. Lane r starts r cycles after lane 0 and
// streams 28 elements; element k of lane r is patch[r + k/7][k%7]. The whole
// run therefore spans 31 cycles. Lanes output zero outside their own stream,
// and the run pauses in place whenever the patch stops being valid.
type SpatialDataFormatter struct {
	running bool
	tick    int

	patch [misc.PatchSize][misc.PatchSize]uint32

	// input ports
	inStart        bool
	inPatchesValid bool
	inPatch        [misc.PatchSize][misc.PatchSize]uint32

	// registered outputs
	outLanes      [misc.SaN]uint32
	outLanesValid [misc.SaN]bool
	outAllSent    bool
}

func NewSpatialDataFormatter() *SpatialDataFormatter {
	f := &SpatialDataFormatter{}
	f.Reset()
	return f
}

// Reset clears the run state and the output lanes.
func (f *SpatialDataFormatter) Reset() {
	f.running = false
	f.tick = 0
	f.patch = [misc.PatchSize][misc.PatchSize]uint32{}

	f.inStart = false
	f.inPatchesValid = false

	f.outLanes = [misc.SaN]uint32{}
	f.outLanesValid = [misc.SaN]bool{}
	f.outAllSent = false
}

// SetStartFormatting requests a run. The run only begins on a cycle where the
// patch is also valid.
func (f *SpatialDataFormatter) SetStartFormatting(start bool) {
	f.inStart = start
}

// SetPatch presents the extractor's patch buffer and its valid flag.
func (f *SpatialDataFormatter) SetPatch(valid bool, patch [misc.PatchSize][misc.PatchSize]uint32) {
	f.inPatchesValid = valid
	f.inPatch = patch
}

// Lanes returns the four activation streams, one pixel group per lane.
func (f *SpatialDataFormatter) Lanes() [misc.SaN]uint32 {
	return f.outLanes
}

// LanesValid reports which lanes carry a stream element this cycle.
func (f *SpatialDataFormatter) LanesValid() [misc.SaN]bool {
	return f.outLanesValid
}

// AllColsSent pulses for one cycle when every lane has drained.
func (f *SpatialDataFormatter) AllColsSent() bool {
	return f.outAllSent
}

// Busy reports whether a run is in progress.
func (f *SpatialDataFormatter) Busy() bool {
	return f.running
}

func (f *SpatialDataFormatter) Cycle() {
	f.outAllSent = false

	if !f.running {
		f.outLanes = [misc.SaN]uint32{}
		f.outLanesValid = [misc.SaN]bool{}

		if f.inStart && f.inPatchesValid {
			f.running = true
			f.tick = 0
			f.patch = f.inPatch
			f.emit()
		}
	} else if !f.inPatchesValid {
		// Patch unstable: hold the counters and present nothing.
		f.outLanes = [misc.SaN]uint32{}
		f.outLanesValid = [misc.SaN]bool{}
	} else {
		f.emit()
	}

	f.inStart = false
	f.inPatchesValid = false
}

func (f *SpatialDataFormatter) emit() {
	lastTick := misc.SaN - 1 + formatterElems - 1

	for lane := 0; lane < misc.SaN; lane++ {
		k := f.tick - lane
		if k >= 0 && k < formatterElems {
			f.outLanes[lane] = f.patch[lane+k/misc.PatchSize][k%misc.PatchSize]
			f.outLanesValid[lane] = true
		} else {
			f.outLanes[lane] = 0
			f.outLanesValid[lane] = false
		}
	}

	if f.tick == lastTick {
		f.running = false
		f.outAllSent = true
		return
	}

	f.tick++
}