package simulator

import (
	"tinytpu/src/misc"
	"tinytpu/src/simulator/buffer"
	"tinytpu/src/simulator/dense"
	"tinytpu/src/simulator/mem"
	"tinytpu/src/simulator/pool"
	"tinytpu/src/simulator/sta"
	"tinytpu/src/simulator/weight"
)

type datapathState int

const (
	dpIdle datapathState = iota
	dpConvTileBias
	dpConvWaitReady
	dpConvPass
	dpConvDrainArray
	dpConvDrainTile
	dpConvNextBlock
	dpDenseRun
	dpSoftmaxWait
	dpLayerDone
)

// Datapath wires the compute units of the current layer around the shared
// memories and sequences the layer cycle by cycle. Every call to Cycle runs
// the two clock phases: route the outputs committed on the previous cycle to
// the consuming input ports, then clock every unit once.
//
// A conv layer is processed one tile at a time, a tile being one output
// channel of one spatial block: broadcast the channel bias, run one systolic
// pass per input channel group, wait for the array to drain, then walk the
// finished C matrix through the requantize and maxpool chain into the write
// bank. Dense layers hand the whole run to the sequential engine; its
// outputs take the pooling chain's bypass path so they reach tensor RAM the
// same way conv results do.
type Datapath struct {
	config *misc.ConfigLoader

	tensorRam *mem.TensorRam
	weightRom *mem.WeightRom
	denseRom  *mem.DenseRom
	biasRom   *mem.BiasRom
	scaleRom  *mem.ScaleRom

	state     datapathState
	layerIdx  int
	layer     misc.LayerDescriptor
	readBank  int
	writeBank int

	extractor   *buffer.UnifiedBuffer
	formatter   *buffer.SpatialDataFormatter
	loader      *weight.Loader
	array       *sta.Array
	outputBuf   *sta.OutputBuffer
	coordinator *sta.OutputCoordinator
	requantizer *pool.RequantizeUnit
	maxpool     *pool.MaxpoolUnit

	engine  *dense.Engine
	softmax *dense.SoftmaxUnit

	outputChannel int
	biasIssued    bool
	passAllSent   bool
	passGroupDone bool
	loadComplete  bool
	pooledCount   int
	pooledTarget  int
	outWidth      int
	outGroups     int

	denseCount int
	logits     [misc.NumClasses]int8

	probs  [misc.NumClasses]int32
	argMax int

	cycle       int64
	statFactory *misc.StatFactory
}

func NewDatapath(
	config *misc.ConfigLoader,
	tensorRam *mem.TensorRam,
	weightRom *mem.WeightRom,
	denseRom *mem.DenseRom,
	biasRom *mem.BiasRom,
	scaleRom *mem.ScaleRom,
) *Datapath {
	d := &Datapath{
		config:    config,
		tensorRam: tensorRam,
		weightRom: weightRom,
		denseRom:  denseRom,
		biasRom:   biasRom,
		scaleRom:  scaleRom,

		array:       sta.NewArray(),
		outputBuf:   sta.NewOutputBuffer(),
		coordinator: sta.NewOutputCoordinator(),
		requantizer: pool.NewRequantizeUnit(),
		maxpool:     pool.NewMaxpoolUnit(),
		softmax:     dense.NewSoftmaxUnit(),

		state: dpIdle,
	}

	d.statFactory = new(misc.StatFactory)
	d.statFactory.Init("Datapath")

	return d
}

func (d *Datapath) StatFactory() *misc.StatFactory {
	return d.statFactory
}

// StartLayer configures the datapath for one layer. The read bank ping-pongs
// with the layer index; the write bank is always the other one.
func (d *Datapath) StartLayer(layerIdx int) {
	d.layerIdx = layerIdx
	d.layer = d.config.Layer(layerIdx)
	d.readBank = layerIdx & 1
	d.writeBank = 1 - d.readBank

	scale := d.scaleRom.Entry(layerIdx)
	special := layerIdx == misc.SpecialLayerIdx

	if d.layer.Kind == misc.LayerKindConv {
		d.extractor = buffer.NewUnifiedBuffer(d.layer)
		d.formatter = buffer.NewSpatialDataFormatter()
		d.loader = weight.NewLoader(d.layer, d.config.WeightRomBase(layerIdx))
		d.array.Reset()
		d.outputBuf.Reset()
		d.coordinator.Reset()
		d.requantizer.Reset()
		d.requantizer.Configure(scale, special)
		d.maxpool.Reset()

		blocksX := buffer.NumSpatialBlocks(d.layer.ImgWidth, d.layer.PadLeft, d.layer.PadRight)
		d.outWidth = blocksX * misc.BlockStride
		d.outGroups = (d.layer.OutputChannels + misc.ChannelGroupSize - 1) / misc.ChannelGroupSize
		d.pooledTarget = (misc.SaN / misc.PoolSize) * (misc.SaN / misc.PoolSize)

		d.outputChannel = 0
		d.extractor.SetStartExtraction(true)
		d.loader.SetStart(true, 0)
		d.beginTile()
	} else {
		biasBase := d.config.BiasRomBase(layerIdx)
		biases := make([]int32, d.layer.OutputSize)
		for i := range biases {
			biases[i] = d.biasRom.Entry(biasBase + i)
		}

		d.engine = dense.NewEngine(dense.Params{
			InputSize:        d.layer.InputSize,
			OutputSize:       d.layer.OutputSize,
			RomBase:          d.config.DenseRomBase(layerIdx),
			Biases:           biases,
			Scale:            scale,
			SpecialZeroPoint: special,
		})
		d.maxpool.Reset()
		d.maxpool.Configure(0, 0, true)

		d.engine.SetStart(true)
		d.denseCount = 0
		d.logits = [misc.NumClasses]int8{}
		d.state = dpDenseRun
	}

	d.statFactory.Increment("layers", 1)
}

// LayerDone reports that the configured layer has fully committed its output
// tensor (and, for the classifier, the probability vector).
func (d *Datapath) LayerDone() bool {
	return d.state == dpLayerDone
}

// Probabilities returns the classifier's Q1.31 probability vector. Valid
// after the last layer reports done.
func (d *Datapath) Probabilities() [misc.NumClasses]int32 {
	return d.probs
}

func (d *Datapath) ArgMax() int {
	return d.argMax
}

func (d *Datapath) Cycle() {
	if d.state == dpIdle {
		return
	}

	d.cycle++
	d.statFactory.Increment("cycles", 1)

	d.control()

	if d.layer.Kind == misc.LayerKindConv {
		d.routeConv()
	} else {
		d.routeDense()
	}

	d.clock()
}

// control samples the outputs committed on the previous cycle and drives the
// one-shot handshake inputs: starts, acknowledgments and the bias broadcast.
func (d *Datapath) control() {
	switch d.state {
	case dpConvTileBias:
		if !d.biasIssued {
			d.biasRom.SetRead(true, d.config.BiasRomBase(d.layerIdx)+d.outputChannel)
			d.biasIssued = true
		} else if d.biasRom.ReadValid() {
			d.array.SetLoadBias(true, d.biasRom.ReadData()[0])
			d.state = dpConvWaitReady
		}

	case dpConvWaitReady:
		if d.extractor.PatchesValid() && d.loader.WeightsReady() {
			// Launch both streams on the same cycle so the activation
			// and weight wavefronts meet in the array.
			d.formatter.SetStartFormatting(true)
			d.loader.SetStreamStart(true)
			d.state = dpConvPass
			d.statFactory.Increment("passes", 1)
		}

	case dpConvPass:
		if d.formatter.AllColsSent() {
			d.passAllSent = true
		}
		if d.loader.GroupStreamDone() {
			d.passGroupDone = true
		}
		if d.loader.LoadComplete() {
			d.loadComplete = true
		}

		if d.passAllSent && d.passGroupDone {
			d.extractor.SetNextChannelGroup(true)
			d.passAllSent = false
			d.passGroupDone = false
			if d.loadComplete {
				d.state = dpConvDrainArray
			} else {
				d.state = dpConvWaitReady
			}
		}

	case dpConvDrainArray:
		if !d.array.Busy() {
			posRow := d.extractor.BlockStartRow() + d.layer.PadTop
			posCol := d.extractor.BlockStartCol() + d.layer.PadLeft
			d.maxpool.Configure(posRow, posCol, false)
			d.coordinator.SetStartDrain(true, d.array.C(), posRow, posCol)
			d.pooledCount = 0
			d.state = dpConvDrainTile
		}

	case dpConvDrainTile:
		if d.pooledCount == d.pooledTarget {
			if d.outputChannel+1 < d.layer.OutputChannels {
				d.outputChannel++
				d.extractor.SetNextChannelGroup(true)
				d.loader.SetStart(true, d.outputChannel)
				d.beginTile()
			} else {
				d.extractor.SetNextSpatialBlock(true)
				d.state = dpConvNextBlock
			}
		}

	case dpConvNextBlock:
		if d.extractor.ExtractionComplete() {
			d.state = dpLayerDone
		} else {
			d.outputChannel = 0
			d.loader.SetStart(true, 0)
			d.beginTile()
		}

	case dpDenseRun:
		if d.denseCount == d.layer.OutputSize {
			if d.layerIdx == misc.SpecialLayerIdx {
				d.softmax.SetStart(true, d.logits)
				d.state = dpSoftmaxWait
			} else {
				d.state = dpLayerDone
			}
		}

	case dpSoftmaxWait:
		if d.softmax.OutValid() {
			d.probs = d.softmax.Probabilities()
			d.argMax = d.softmax.ArgMax()
			d.state = dpLayerDone
		}
	}
}

func (d *Datapath) beginTile() {
	d.biasIssued = false
	d.passAllSent = false
	d.passGroupDone = false
	d.loadComplete = false
	d.state = dpConvTileBias
	d.statFactory.Increment("tiles", 1)
}

// routeConv carries the streaming wires of the conv pipeline: extractor to
// RAM, loader to ROM, both front ends into the array, and the drain chain
// from the coordinator down to the pooled write-back.
func (d *Datapath) routeConv() {
	d.tensorRam.SetRead(d.extractor.RamReadValid(), d.extractor.RamReadAddress(), d.readBank)
	d.extractor.SetRamData(d.tensorRam.ReadValid(), d.tensorRam.ReadData())

	d.weightRom.SetRead(d.loader.RomReadValid(), d.loader.RomReadAddress())
	d.loader.SetRomData(d.weightRom.ReadValid(), d.weightRom.Row())

	d.formatter.SetPatch(d.extractor.PatchesValid(), d.extractor.Patch())

	d.array.SetA(d.formatter.Lanes(), d.formatter.LanesValid())
	d.array.SetB(d.loader.Lanes(), d.loader.LanesValid())

	d.outputBuf.SetWrites(d.coordinator.Writes())
	d.outputBuf.SetConsume(d.state == dpConvDrainTile)
	d.coordinator.SetBufferEmpty(d.outputBuf.Empty())

	d.requantizer.SetLane(0, d.outputBuf.OutValid(), d.outputBuf.OutEntry())
	d.maxpool.SetLane(0, d.requantizer.LaneValid(0), d.requantizer.Lane(0))

	if d.maxpool.OutValid() {
		out := d.maxpool.Out()
		address := mem.TensorByteAddress(
			out.Row/misc.PoolSize,
			out.Col/misc.PoolSize,
			d.outputChannel,
			d.outWidth/misc.PoolSize,
			d.outGroups,
		)
		d.tensorRam.SetWrite(true, address, d.writeBank, out.Value)
		d.pooledCount++
		d.statFactory.Increment("pooled_writes", 1)
	}
}

// routeDense carries the dense engine's paired memory reads and threads its
// outputs through the pooling chain's bypass into the write bank. The
// classifier's outputs are also collected as the softmax logit vector.
func (d *Datapath) routeDense() {
	d.tensorRam.SetByteRead(d.engine.RamReadValid(), d.engine.RamReadAddress(), d.readBank)
	d.engine.SetRamData(d.tensorRam.ByteReadValid(), d.tensorRam.ByteReadData())

	d.denseRom.SetRead(d.engine.RomReadValid(), d.engine.RomReadAddress())
	d.engine.SetRomData(d.denseRom.ReadValid(), d.denseRom.ReadData())

	d.maxpool.SetLane(0, d.engine.OutValid(), pool.Quantized{
		Row:   0,
		Col:   d.engine.OutIndex(),
		Value: d.engine.OutValue(),
	})

	if d.maxpool.OutValid() {
		out := d.maxpool.Out()
		d.tensorRam.SetWrite(true, out.Col, d.writeBank, out.Value)
		if d.layerIdx == misc.SpecialLayerIdx {
			d.logits[out.Col] = out.Value
		}
		d.denseCount++
	}
}

func (d *Datapath) clock() {
	d.tensorRam.Cycle()
	d.weightRom.Cycle()
	d.denseRom.Cycle()
	d.biasRom.Cycle()

	if d.layer.Kind == misc.LayerKindConv {
		d.extractor.Cycle()
		d.formatter.Cycle()
		d.loader.Cycle()
		d.array.Cycle()
		d.coordinator.Cycle()
		d.outputBuf.Cycle()
		d.requantizer.Cycle()
		d.maxpool.Cycle()
	} else {
		d.engine.Cycle()
		d.maxpool.Cycle()
		d.softmax.Cycle()
	}
}
