package simulator

import (
	"fmt"
	"path/filepath"

	"tinytpu/src/misc"
	"tinytpu/src/simulator/mem"
)

// Simulator owns the memories, the datapath and the layer sequencing: it
// stages the memory images, steps the datapath one cycle at a time and
// advances to the next layer whenever the current one reports done.
type Simulator struct {
	command_line_parser *misc.CommandLineParser
	config_loader       *misc.ConfigLoader

	tensor_ram *mem.TensorRam
	weight_rom *mem.WeightRom
	dense_rom  *mem.DenseRom
	bias_rom   *mem.BiasRom
	scale_rom  *mem.ScaleRom

	datapath *Datapath

	layer_idx  int
	cycle      int64
	max_cycles int64
	verbose    int64
	finished   bool

	stat_factory *misc.StatFactory
}

func (this *Simulator) Init(command_line_parser *misc.CommandLineParser) {
	this.command_line_parser = command_line_parser
	this.max_cycles = command_line_parser.IntParameter("max_cycles")
	this.verbose = command_line_parser.IntParameter("verbose")

	this.config_loader = new(misc.ConfigLoader)
	this.config_loader.Init()

	this.tensor_ram = new(mem.TensorRam)
	this.tensor_ram.Init(this.config_loader.TensorRamWords())

	this.weight_rom = new(mem.WeightRom)
	this.weight_rom.Init(this.config_loader.WeightRomRows())

	this.dense_rom = new(mem.DenseRom)
	this.dense_rom.Init(this.config_loader.DenseRomBytes())

	this.bias_rom = new(mem.BiasRom)
	this.bias_rom.Init(this.config_loader.BiasRomEntries())

	this.scale_rom = new(mem.ScaleRom)
	this.scale_rom.Init(this.config_loader.NumLayers())

	this.loadImages()

	this.datapath = NewDatapath(
		this.config_loader,
		this.tensor_ram,
		this.weight_rom,
		this.dense_rom,
		this.bias_rom,
		this.scale_rom,
	)

	this.layer_idx = 0
	this.cycle = 0
	this.finished = false

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init("Simulator")

	this.datapath.StartLayer(0)
}

func (this *Simulator) Fini() {
	this.tensor_ram.Fini()
	this.weight_rom.Fini()
	this.dense_rom.Fini()
	this.bias_rom.Fini()
	this.scale_rom.Fini()
	this.config_loader.Fini()
	this.stat_factory.Fini()
}

func (this *Simulator) IsFinished() bool {
	return this.finished
}

func (this *Simulator) Cycle() {
	if this.finished {
		return
	}

	this.cycle++
	this.datapath.Cycle()

	if this.datapath.LayerDone() {
		if this.verbose > 0 {
			fmt.Printf("layer %d done at cycle %d\n", this.layer_idx, this.cycle)
		}
		this.stat_factory.Overwrite(fmt.Sprintf("layer_%d_end_cycle", this.layer_idx), this.cycle)

		this.layer_idx++
		if this.layer_idx == this.config_loader.NumLayers() {
			this.finished = true
		} else {
			this.datapath.StartLayer(this.layer_idx)
		}
	}

	if !this.finished && this.cycle >= this.max_cycles {
		err := fmt.Errorf("simulation did not finish within %d cycles", this.max_cycles)
		panic(err)
	}
}

// Probabilities returns the classifier's Q1.31 probability vector. Valid
// once IsFinished reports true.
func (this *Simulator) Probabilities() [misc.NumClasses]int32 {
	return this.datapath.Probabilities()
}

func (this *Simulator) ArgMax() int {
	return this.datapath.ArgMax()
}

func (this *Simulator) NumCycles() int64 {
	return this.cycle
}

// Dump writes the counters of every component to stats.txt under the log
// directory.
func (this *Simulator) Dump() {
	this.stat_factory.Overwrite("cycles", this.cycle)
	this.stat_factory.Overwrite("predicted_class", int64(this.datapath.ArgMax()))

	lines := make([]string, 0)
	lines = append(lines, this.stat_factory.ToLines()...)
	lines = append(lines, this.datapath.StatFactory().ToLines()...)
	lines = append(lines, this.tensor_ram.StatFactory().ToLines()...)
	lines = append(lines, this.weight_rom.StatFactory().ToLines()...)
	lines = append(lines, this.dense_rom.StatFactory().ToLines()...)
	lines = append(lines, this.bias_rom.StatFactory().ToLines()...)

	log_dirpath := this.command_line_parser.StringParameter("log_dirpath")
	stats_filepath := filepath.Join(log_dirpath, "stats.txt")

	file_dumper := new(misc.FileDumper)
	file_dumper.Init(stats_filepath)
	file_dumper.WriteLines(lines)
}

func (this *Simulator) loadImages() {
	image_loader := new(misc.HexLoader)
	image_loader.Init(this.command_line_parser.StringParameter("image_filepath"))
	this.tensor_ram.LoadBytes(0, image_loader.Bytes())

	weight_loader := new(misc.HexLoader)
	weight_loader.Init(this.command_line_parser.StringParameter("weight_filepath"))
	this.weight_rom.LoadBytes(weight_loader.Bytes())

	dense_loader := new(misc.HexLoader)
	dense_loader.Init(this.command_line_parser.StringParameter("dense_filepath"))
	this.dense_rom.LoadBytes(dense_loader.Bytes())

	bias_loader := new(misc.HexLoader)
	bias_loader.Init(this.command_line_parser.StringParameter("bias_filepath"))
	bias_words := bias_loader.Words()
	biases := make([]uint32, len(bias_words))
	for i, word := range bias_words {
		biases[i] = uint32(word)
	}
	this.bias_rom.LoadWords(biases)

	scale_loader := new(misc.HexLoader)
	scale_loader.Init(this.command_line_parser.StringParameter("scale_filepath"))
	this.scale_rom.LoadWords(scale_loader.Words())
}
