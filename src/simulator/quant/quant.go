// Package quant holds the fixed-point quantization primitives shared by the
// conv and dense datapaths: the gemmlowp-style rounding multiply, the
// requantize-and-activate function and the packed channel-group helpers.
package quant

const (
	QMin = -128
	QMax = 127

	// Zero points applied after rescaling. Every hidden layer uses the relu6
	// zero point; the classifier output layer uses the special one.
	NormZeroPoint    = -128
	SpecialZeroPoint = -1
)

// ScaleParams is one requantization ROM entry: the layer output scale encoded
// as multiplier * 2^-31 followed by an arithmetic shift.
type ScaleParams struct {
	Multiplier int32
	Shift      int
}

// MultiplyByQuantizedMultiplier computes round(value * multiplier * 2^-31)
// followed by a signed shift: right for positive shift, left for negative.
// The left-shift result wraps to 32 bits like the hardware register it maps
// to.
func MultiplyByQuantizedMultiplier(value int32, multiplier int32, shift int) int32 {
	prod := int64(value) * int64(multiplier)
	rounded := prod + (1 << 30)
	tmp := int32(rounded >> 31)

	switch {
	case shift > 0:
		return tmp >> uint(shift)
	case shift < 0:
		return tmp << uint(-shift)
	default:
		return tmp
	}
}

// Requantize converts a 32-bit accumulator to an int8 activation: rescale,
// add the zero point, clamp to [QMin, QMax]. The clamp doubles as the
// quantized relu6 activation.
func Requantize(acc int32, params ScaleParams, specialZeroPoint bool) int8 {
	scaled := MultiplyByQuantizedMultiplier(acc, params.Multiplier, params.Shift)

	zeroPoint := int32(NormZeroPoint)
	if specialZeroPoint {
		zeroPoint = SpecialZeroPoint
	}
	withZp := scaled + zeroPoint

	if withZp < QMin {
		return QMin
	}
	if withZp > QMax {
		return QMax
	}
	return int8(withZp)
}

// PackGroup packs one 4-channel pixel group into a 32-bit word, channel 0 in
// the least significant byte.
func PackGroup(group [4]int8) uint32 {
	var word uint32
	for ch := 0; ch < 4; ch++ {
		word |= uint32(uint8(group[ch])) << uint(8*ch)
	}
	return word
}

// UnpackGroup is the inverse of PackGroup.
func UnpackGroup(word uint32) [4]int8 {
	var group [4]int8
	for ch := 0; ch < 4; ch++ {
		group[ch] = int8(uint8(word >> uint(8*ch)))
	}
	return group
}

// Dot4 is the per-PE multiply-accumulate step over one channel group.
func Dot4(a [4]int8, b [4]int8) int32 {
	var sum int32
	for k := 0; k < 4; k++ {
		sum += int32(a[k]) * int32(b[k])
	}
	return sum
}
