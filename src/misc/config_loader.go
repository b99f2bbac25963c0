package misc

import (
	"errors"
	"fmt"
)

type LayerKind int

const (
	LayerKindConv LayerKind = iota
	LayerKindDense
)

// LayerDescriptor captures the compile-time geometry of one model layer. The
// table is fixed at build time; the datapath only ever reads it.
type LayerDescriptor struct {
	Kind LayerKind

	ImgWidth       int
	ImgHeight      int
	InputChannels  int
	OutputChannels int

	PadTop    int
	PadBottom int
	PadLeft   int
	PadRight  int

	// Dense layers use the flattened vector sizes instead of spatial dims.
	InputSize  int
	OutputSize int
}

// ChannelGroups returns the number of 4-channel groups of the layer input.
func (this *LayerDescriptor) ChannelGroups() int {
	return (this.InputChannels + ChannelGroupSize - 1) / ChannelGroupSize
}

const (
	SaN              = 4 // systolic array dimension
	KernelSize       = 4
	PatchSize        = 7 // KernelSize + SaN - 1
	BlockStride      = 4 // spatial block step, one SA tile of output pixels
	ChannelGroupSize = 4
	PoolSize         = 2
	NumLayers        = 6
	NumConvLayers    = 4
	NumClasses       = 10
	SpecialLayerIdx  = 5 // output layer uses the -1 zero point
)

// ConfigLoader exposes the static model configuration: the per-layer geometry
// table and the derived ROM layout offsets.
type ConfigLoader struct {
	layers []LayerDescriptor
}

func (this *ConfigLoader) Init() {
	this.layers = []LayerDescriptor{
		{Kind: LayerKindConv, ImgWidth: 32, ImgHeight: 32, InputChannels: 1, OutputChannels: 8,
			PadTop: 1, PadBottom: 2, PadLeft: 1, PadRight: 2},
		{Kind: LayerKindConv, ImgWidth: 16, ImgHeight: 16, InputChannels: 8, OutputChannels: 16,
			PadTop: 1, PadBottom: 2, PadLeft: 1, PadRight: 2},
		{Kind: LayerKindConv, ImgWidth: 8, ImgHeight: 8, InputChannels: 16, OutputChannels: 32,
			PadTop: 1, PadBottom: 2, PadLeft: 1, PadRight: 2},
		{Kind: LayerKindConv, ImgWidth: 4, ImgHeight: 4, InputChannels: 32, OutputChannels: 64,
			PadTop: 1, PadBottom: 2, PadLeft: 1, PadRight: 2},
		{Kind: LayerKindDense, InputSize: 256, OutputSize: 64},
		{Kind: LayerKindDense, InputSize: 64, OutputSize: 10},
	}

	if len(this.layers) != NumLayers {
		err := errors.New("layer table size does not match NumLayers")
		panic(err)
	}
}

func (this *ConfigLoader) Fini() {
	this.layers = nil
}

func (this *ConfigLoader) NumLayers() int {
	return len(this.layers)
}

func (this *ConfigLoader) Layer(layer_idx int) LayerDescriptor {
	if layer_idx < 0 || layer_idx >= len(this.layers) {
		err := fmt.Errorf("layer index %d is out of range", layer_idx)
		panic(err)
	}
	return this.layers[layer_idx]
}

// WeightRomBase returns the first weight ROM row of a conv layer. Rows are
// cumulative over the preceding conv layers: each layer occupies
// out_channels * channel_groups * KernelSize rows.
func (this *ConfigLoader) WeightRomBase(layer_idx int) int {
	this.checkConvLayer(layer_idx)

	base := 0
	for l := 0; l < layer_idx; l++ {
		layer := this.layers[l]
		base += layer.OutputChannels * layer.ChannelGroups() * KernelSize
	}
	return base
}

func (this *ConfigLoader) WeightRomRows() int {
	rows := 0
	for l := 0; l < NumConvLayers; l++ {
		layer := this.layers[l]
		rows += layer.OutputChannels * layer.ChannelGroups() * KernelSize
	}
	return rows
}

// DenseRomBase returns the first byte of a dense layer's row-major kernel.
func (this *ConfigLoader) DenseRomBase(layer_idx int) int {
	this.checkDenseLayer(layer_idx)

	base := 0
	for l := NumConvLayers; l < layer_idx; l++ {
		layer := this.layers[l]
		base += layer.InputSize * layer.OutputSize
	}
	return base
}

func (this *ConfigLoader) DenseRomBytes() int {
	size := 0
	for l := NumConvLayers; l < NumLayers; l++ {
		layer := this.layers[l]
		size += layer.InputSize * layer.OutputSize
	}
	return size
}

// BiasRomBase returns the first bias entry of a layer. One int32 per output
// channel (conv) or output neuron (dense), layers packed back to back.
func (this *ConfigLoader) BiasRomBase(layer_idx int) int {
	if layer_idx < 0 || layer_idx >= len(this.layers) {
		err := fmt.Errorf("layer index %d is out of range", layer_idx)
		panic(err)
	}

	base := 0
	for l := 0; l < layer_idx; l++ {
		base += this.layerOutputs(l)
	}
	return base
}

func (this *ConfigLoader) BiasRomEntries() int {
	entries := 0
	for l := 0; l < len(this.layers); l++ {
		entries += this.layerOutputs(l)
	}
	return entries
}

// TensorRamWords returns the per-bank word capacity needed to hold the
// largest activation tensor of the model.
func (this *ConfigLoader) TensorRamWords() int {
	words := 0
	for l := 0; l < NumConvLayers; l++ {
		layer := this.layers[l]
		need := layer.ImgWidth * layer.ImgHeight * layer.ChannelGroups()
		if need > words {
			words = need
		}
	}
	return words
}

func (this *ConfigLoader) layerOutputs(layer_idx int) int {
	layer := this.layers[layer_idx]
	if layer.Kind == LayerKindConv {
		return layer.OutputChannels
	}
	return layer.OutputSize
}

func (this *ConfigLoader) checkConvLayer(layer_idx int) {
	if layer_idx < 0 || layer_idx >= NumConvLayers {
		err := fmt.Errorf("layer index %d is not a conv layer", layer_idx)
		panic(err)
	}
}

func (this *ConfigLoader) checkDenseLayer(layer_idx int) {
	if layer_idx < NumConvLayers || layer_idx >= NumLayers {
		err := fmt.Errorf("layer index %d is not a dense layer", layer_idx)
		panic(err)
	}
}
