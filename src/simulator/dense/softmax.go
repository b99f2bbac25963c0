package dense

import (
	"math"

	"tinytpu/src/misc"
	"tinytpu/src/simulator/quant"
)

// softmaxLatency is the fixed number of cycles between start and valid, one
// per class plus a normalization pass.
const softmaxLatency = misc.NumClasses + 2

// SoftmaxUnit converts the final layer's int8 logits into a Q1.31 fixed
// point probability vector. Logits use the classifier's quantization: zero
// point -1, scale 1/16. The unit is a fixed-latency block with a
// start/ready/valid handshake; it models the lookup-and-normalize engine
// functionally rather than cycle by cycle.
type SoftmaxUnit struct {
	busy   int
	logits [misc.NumClasses]int8
	probs  [misc.NumClasses]int32
	arg    int

	// input ports
	inStart  bool
	inLogits [misc.NumClasses]int8

	// registered outputs
	outValid bool
}

func NewSoftmaxUnit() *SoftmaxUnit {
	s := &SoftmaxUnit{}
	s.Reset()
	return s
}

func (s *SoftmaxUnit) Reset() {
	s.busy = 0
	s.logits = [misc.NumClasses]int8{}
	s.probs = [misc.NumClasses]int32{}
	s.arg = 0
	s.inStart = false
	s.outValid = false
}

// SetStart latches the logit vector and begins a conversion. Ignored while
// a conversion is in flight.
func (s *SoftmaxUnit) SetStart(start bool, logits [misc.NumClasses]int8) {
	s.inStart = start
	s.inLogits = logits
}

// Ready reports that the unit can accept a new logit vector.
func (s *SoftmaxUnit) Ready() bool {
	return s.busy == 0 && !s.outValid
}

// OutValid pulses for one cycle when the probability vector is committed.
func (s *SoftmaxUnit) OutValid() bool {
	return s.outValid
}

// Probabilities returns the Q1.31 probability per class.
func (s *SoftmaxUnit) Probabilities() [misc.NumClasses]int32 {
	return s.probs
}

// ArgMax returns the class with the highest probability.
func (s *SoftmaxUnit) ArgMax() int {
	return s.arg
}

func (s *SoftmaxUnit) Cycle() {
	s.outValid = false

	if s.busy == 0 && s.inStart {
		s.logits = s.inLogits
		s.busy = softmaxLatency
	}

	if s.busy > 0 {
		s.busy--
		if s.busy == 0 {
			s.compute()
			s.outValid = true
		}
	}

	s.inStart = false
}

func (s *SoftmaxUnit) compute() {
	var exps [misc.NumClasses]float64
	sum := 0.0
	for i, logit := range s.logits {
		x := float64(int32(logit)-int32(quant.SpecialZeroPoint)) / 16.0
		exps[i] = math.Exp(x)
		sum += exps[i]
	}

	s.arg = 0
	for i := range exps {
		p := exps[i] / sum
		scaled := int64(p * float64(int64(1)<<31))
		if scaled > math.MaxInt32 {
			scaled = math.MaxInt32
		}
		s.probs[i] = int32(scaled)
		if s.probs[i] > s.probs[s.arg] {
			s.arg = i
		}
	}
}
