// Package dense models the fully-connected tail of the network: a sequential
// multiply-accumulate engine fed from the flattened activation bytes in
// tensor RAM and the dense weight ROM, plus the softmax classifier.
package dense

import (
	"fmt"

	"tinytpu/src/simulator/quant"
)

type engineState int

const (
	engineIdle engineState = iota
	engineRunning
	engineDone
)

// Params configures the engine for one dense layer.
type Params struct {
	InputSize  int
	OutputSize int
	// RomBase is the layer's first byte in the dense weight ROM; weights
	// are row-major, input index times OutputSize plus output index.
	RomBase int
	// Biases holds one int32 bias per output, already fetched from the
	// bias ROM at layer setup.
	Biases []int32

	Scale            quant.ScaleParams
	SpecialZeroPoint bool
}

// Engine computes one dense layer one multiply per cycle. Activation bytes
// come back through the tensor RAM's narrow read port and weights through
// the dense ROM port; both are registered, so the engine keeps two
// activation/weight pairs in flight. Each finished output is requantized and
// presented for one cycle.
type Engine struct {
	params Params

	state     engineState
	outputIdx int
	issued    int
	completed int
	acc       int32

	cycle int

	// input ports
	inStart    bool
	inRamValid bool
	inRamData  int8
	inRomValid bool
	inRomData  int8

	// registered outputs
	outRamReadValid bool
	outRamReadAddr  int
	outRomReadValid bool
	outRomReadAddr  int
	outValid        bool
	outIndex        int
	outValue        int8
	outDone         bool
}

func NewEngine(params Params) *Engine {
	if params.InputSize <= 0 || params.OutputSize <= 0 {
		panic(fmt.Errorf("dense engine sizes %dx%d are invalid", params.InputSize, params.OutputSize))
	}
	if len(params.Biases) != params.OutputSize {
		panic(fmt.Errorf(
			"dense engine has %d biases for %d outputs",
			len(params.Biases),
			params.OutputSize,
		))
	}

	e := &Engine{params: params}
	e.Reset()
	return e
}

func (e *Engine) Reset() {
	e.state = engineIdle
	e.outputIdx = 0
	e.issued = 0
	e.completed = 0
	e.acc = 0
	e.cycle = 0

	e.inStart = false
	e.inRamValid = false
	e.inRomValid = false

	e.outRamReadValid = false
	e.outRomReadValid = false
	e.outValid = false
	e.outDone = false
}

func (e *Engine) SetStart(start bool) {
	e.inStart = start
}

// SetRamData presents the narrow tensor RAM response for this cycle.
func (e *Engine) SetRamData(valid bool, data int8) {
	e.inRamValid = valid
	e.inRamData = data
}

// SetRomData presents the dense ROM response for this cycle.
func (e *Engine) SetRomData(valid bool, data int8) {
	e.inRomValid = valid
	e.inRomData = data
}

func (e *Engine) RamReadValid() bool {
	return e.outRamReadValid
}

// RamReadAddress returns the byte address of the requested activation; the
// flattened tensor layout makes it equal to the flat input index.
func (e *Engine) RamReadAddress() int {
	return e.outRamReadAddr
}

func (e *Engine) RomReadValid() bool {
	return e.outRomReadValid
}

func (e *Engine) RomReadAddress() int {
	return e.outRomReadAddr
}

// OutValid pulses for one cycle per finished output neuron.
func (e *Engine) OutValid() bool {
	return e.outValid
}

func (e *Engine) OutIndex() int {
	return e.outIndex
}

func (e *Engine) OutValue() int8 {
	return e.outValue
}

// Done reports that every output of the layer has been emitted.
func (e *Engine) Done() bool {
	return e.outDone
}

func (e *Engine) Cycle() {
	e.cycle++
	e.outValid = false

	switch e.state {
	case engineIdle:
		if e.inStart {
			e.state = engineRunning
			e.outputIdx = 0
			e.beginOutput()
			e.step()
		} else {
			e.outRamReadValid = false
			e.outRomReadValid = false
		}

	case engineRunning:
		e.step()

	case engineDone:
		e.outRamReadValid = false
		e.outRomReadValid = false
		e.outDone = true
		if e.inStart {
			e.Reset()
			e.cycle = 1
			e.state = engineRunning
			e.beginOutput()
			e.step()
		}
	}

	e.inStart = false
	e.inRamValid = false
	e.inRomValid = false
}

func (e *Engine) beginOutput() {
	e.issued = 0
	e.completed = 0
	e.acc = e.params.Biases[e.outputIdx]
}

func (e *Engine) step() {
	if e.inRamValid != e.inRomValid {
		panic(fmt.Errorf("dense engine: activation and weight responses split at cycle %d", e.cycle))
	}
	if e.inRamValid {
		if e.completed == e.issued {
			panic(fmt.Errorf("dense engine: response with no request in flight at cycle %d", e.cycle))
		}
		e.acc += int32(e.inRamData) * int32(e.inRomData)
		e.completed++
	}

	e.outRamReadValid = false
	e.outRomReadValid = false

	if e.issued < e.params.InputSize && e.issued-e.completed < 2 {
		e.outRamReadValid = true
		e.outRamReadAddr = e.issued
		e.outRomReadValid = true
		e.outRomReadAddr = e.params.RomBase + e.issued*e.params.OutputSize + e.outputIdx
		e.issued++
		return
	}

	if e.completed == e.params.InputSize {
		e.outValid = true
		e.outIndex = e.outputIdx
		e.outValue = quant.Requantize(e.acc, e.params.Scale, e.params.SpecialZeroPoint)

		e.outputIdx++
		if e.outputIdx == e.params.OutputSize {
			e.state = engineDone
			e.outDone = true
		} else {
			e.beginOutput()
		}
	}
}
