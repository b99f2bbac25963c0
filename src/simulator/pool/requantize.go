// Package pool models the post-processing chain behind the systolic array:
// per-lane requantization back to int8 and the streaming 2x2 max-pool unit.
package pool

import (
	"tinytpu/src/misc"
	"tinytpu/src/simulator/quant"
	"tinytpu/src/simulator/sta"
)

// Quantized is one requantized activation with its coordinate tag.
type Quantized struct {
	Row   int
	Col   int
	Value int8
}

// RequantizeUnit converts int32 accumulator results to int8 activations,
// one lane per systolic column. All lanes share the current layer's scale
// parameters; the coordinate tag passes through untouched.
type RequantizeUnit struct {
	params  quant.ScaleParams
	special bool

	// input ports
	inValid [misc.SaN]bool
	inLanes [misc.SaN]sta.Result

	// registered outputs
	outValid [misc.SaN]bool
	outLanes [misc.SaN]Quantized
}

func NewRequantizeUnit() *RequantizeUnit {
	r := &RequantizeUnit{}
	r.Reset()
	return r
}

func (r *RequantizeUnit) Reset() {
	r.inValid = [misc.SaN]bool{}
	r.outValid = [misc.SaN]bool{}
	r.outLanes = [misc.SaN]Quantized{}
}

// Configure selects the scale parameters and zero point for the layer being
// processed. Called once per layer, not per cycle.
func (r *RequantizeUnit) Configure(params quant.ScaleParams, specialZeroPoint bool) {
	r.params = params
	r.special = specialZeroPoint
}

// SetLane presents one accumulator result on a lane for this cycle.
func (r *RequantizeUnit) SetLane(lane int, valid bool, result sta.Result) {
	r.inValid[lane] = valid
	r.inLanes[lane] = result
}

func (r *RequantizeUnit) LaneValid(lane int) bool {
	return r.outValid[lane]
}

func (r *RequantizeUnit) Lane(lane int) Quantized {
	return r.outLanes[lane]
}

func (r *RequantizeUnit) Cycle() {
	for lane := 0; lane < misc.SaN; lane++ {
		if r.inValid[lane] {
			in := r.inLanes[lane]
			r.outValid[lane] = true
			r.outLanes[lane] = Quantized{
				Row:   in.Row,
				Col:   in.Col,
				Value: quant.Requantize(in.Value, r.params, r.special),
			}
		} else {
			r.outValid[lane] = false
		}
	}

	r.inValid = [misc.SaN]bool{}
}
