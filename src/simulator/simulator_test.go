package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"tinytpu/src/misc"
	"tinytpu/src/simulator/mem"
	"tinytpu/src/simulator/quant"
)

// convWeights is one conv layer's kernel, indexed
// [outputChannel][kernelRow][kernelCol][inputChannel].
type convWeights [][][][]int8

func randomTensor(rng *rand.Rand, height int, width int, channels int) [][][]int8 {
	tensor := make([][][]int8, height)
	for r := range tensor {
		tensor[r] = make([][]int8, width)
		for c := range tensor[r] {
			tensor[r][c] = make([]int8, channels)
			for ch := range tensor[r][c] {
				tensor[r][c][ch] = int8(rng.Intn(256) - 128)
			}
		}
	}
	return tensor
}

func randomConvWeights(rng *rand.Rand, layer misc.LayerDescriptor) convWeights {
	w := make(convWeights, layer.OutputChannels)
	for oc := range w {
		w[oc] = make([][][]int8, misc.KernelSize)
		for ky := range w[oc] {
			w[oc][ky] = make([][]int8, misc.KernelSize)
			for kx := range w[oc][ky] {
				w[oc][ky][kx] = make([]int8, layer.InputChannels)
				for ic := range w[oc][ky][kx] {
					w[oc][ky][kx][ic] = int8(rng.Intn(256) - 128)
				}
			}
		}
	}
	return w
}

func randomBiases(rng *rand.Rand, count int) []int32 {
	biases := make([]int32, count)
	for i := range biases {
		biases[i] = int32(rng.Intn(4001) - 2000)
	}
	return biases
}

// tensorBytes lays a tensor out the way the datapath stores it in tensor
// RAM, four channel bytes per 32-bit word.
func tensorBytes(tensor [][][]int8, width int, groups int) []uint8 {
	height := len(tensor)
	bytes := make([]uint8, height*width*groups*4)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			for ch := range tensor[r][c] {
				bytes[mem.TensorByteAddress(r, c, ch, width, groups)] = uint8(tensor[r][c][ch])
			}
		}
	}
	return bytes
}

// convWeightBytes packs per-layer kernels into the weight ROM byte image:
// one row per (output channel, channel group, kernel row), word kx holding
// the four channel weights of kernel column kx.
func convWeightBytes(config *misc.ConfigLoader, weights [misc.NumConvLayers]convWeights) []uint8 {
	bytes := make([]uint8, config.WeightRomRows()*16)
	for l := 0; l < misc.NumConvLayers; l++ {
		if weights[l] == nil {
			continue
		}
		layer := config.Layer(l)
		base := config.WeightRomBase(l)
		groups := layer.ChannelGroups()

		for oc := 0; oc < layer.OutputChannels; oc++ {
			for g := 0; g < groups; g++ {
				for ky := 0; ky < misc.KernelSize; ky++ {
					row := base + oc*misc.KernelSize*groups + g*misc.KernelSize + ky
					for kx := 0; kx < misc.KernelSize; kx++ {
						for offset := 0; offset < 4; offset++ {
							ic := g*misc.ChannelGroupSize + offset
							if ic < layer.InputChannels {
								bytes[row*16+kx*4+offset] = uint8(weights[l][oc][ky][kx][ic])
							}
						}
					}
				}
			}
		}
	}
	return bytes
}

// refConvLayer is the nested-loop reference for one conv layer: top-left
// padded 4x4 convolution, requantize with the relu6 zero point, 2x2 max
// pooling.
func refConvLayer(
	input [][][]int8,
	layer misc.LayerDescriptor,
	weights convWeights,
	biases []int32,
	scale quant.ScaleParams,
) [][][]int8 {
	conv := make([][][]int8, layer.ImgHeight)
	for y := range conv {
		conv[y] = make([][]int8, layer.ImgWidth)
		for x := range conv[y] {
			conv[y][x] = make([]int8, layer.OutputChannels)
			for oc := range conv[y][x] {
				acc := biases[oc]
				for ky := 0; ky < misc.KernelSize; ky++ {
					for kx := 0; kx < misc.KernelSize; kx++ {
						iy := y - layer.PadTop + ky
						ix := x - layer.PadLeft + kx
						if iy < 0 || iy >= layer.ImgHeight || ix < 0 || ix >= layer.ImgWidth {
							continue
						}
						for ic := 0; ic < layer.InputChannels; ic++ {
							acc += int32(input[iy][ix][ic]) * int32(weights[oc][ky][kx][ic])
						}
					}
				}
				conv[y][x][oc] = quant.Requantize(acc, scale, false)
			}
		}
	}

	pooled := make([][][]int8, layer.ImgHeight/misc.PoolSize)
	for y := range pooled {
		pooled[y] = make([][]int8, layer.ImgWidth/misc.PoolSize)
		for x := range pooled[y] {
			pooled[y][x] = make([]int8, layer.OutputChannels)
			for oc := range pooled[y][x] {
				max := conv[y*misc.PoolSize][x*misc.PoolSize][oc]
				for dy := 0; dy < misc.PoolSize; dy++ {
					for dx := 0; dx < misc.PoolSize; dx++ {
						v := conv[y*misc.PoolSize+dy][x*misc.PoolSize+dx][oc]
						if v > max {
							max = v
						}
					}
				}
				pooled[y][x][oc] = max
			}
		}
	}
	return pooled
}

// refDense is the reference for one dense layer over a flattened input.
// weights is indexed [input][output].
func refDense(
	input []int8,
	weights [][]int8,
	biases []int32,
	scale quant.ScaleParams,
	special bool,
) []int8 {
	out := make([]int8, len(biases))
	for o := range out {
		acc := biases[o]
		for i := range input {
			acc += int32(input[i]) * int32(weights[i][o])
		}
		out[o] = quant.Requantize(acc, scale, special)
	}
	return out
}

func refSoftmax(logits [misc.NumClasses]int8) ([misc.NumClasses]int32, int) {
	var exps [misc.NumClasses]float64
	sum := 0.0
	for i, logit := range logits {
		x := float64(int32(logit)-int32(quant.SpecialZeroPoint)) / 16.0
		exps[i] = math.Exp(x)
		sum += exps[i]
	}

	var probs [misc.NumClasses]int32
	arg := 0
	for i := range exps {
		scaled := int64(exps[i] / sum * float64(int64(1)<<31))
		if scaled > math.MaxInt32 {
			scaled = math.MaxInt32
		}
		probs[i] = int32(scaled)
		if probs[i] > probs[arg] {
			arg = i
		}
	}
	return probs, arg
}

func TestConvLayerMatchesReference(t *testing.T) {
	t.Parallel()

	config := new(misc.ConfigLoader)
	config.Init()
	defer config.Fini()

	rng := rand.New(rand.NewSource(0x7a51))
	layer := config.Layer(0)

	input := randomTensor(rng, layer.ImgHeight, layer.ImgWidth, layer.InputChannels)
	var weights [misc.NumConvLayers]convWeights
	weights[0] = randomConvWeights(rng, layer)
	biases := randomBiases(rng, layer.OutputChannels)
	scale := quant.ScaleParams{Multiplier: 1 << 22, Shift: 0}

	tensorRam := new(mem.TensorRam)
	tensorRam.Init(config.TensorRamWords())
	tensorRam.LoadBytes(0, tensorBytes(input, layer.ImgWidth, layer.ChannelGroups()))

	weightRom := new(mem.WeightRom)
	weightRom.Init(config.WeightRomRows())
	weightRom.LoadBytes(convWeightBytes(config, weights))

	denseRom := new(mem.DenseRom)
	denseRom.Init(config.DenseRomBytes())

	biasRom := new(mem.BiasRom)
	biasRom.Init(config.BiasRomEntries())
	for oc, bias := range biases {
		biasRom.LoadEntry(config.BiasRomBase(0)+oc, bias)
	}

	scaleRom := new(mem.ScaleRom)
	scaleRom.Init(config.NumLayers())
	scaleRom.LoadEntry(0, scale)

	dp := NewDatapath(config, tensorRam, weightRom, denseRom, biasRom, scaleRom)
	dp.StartLayer(0)

	for cycles := 0; !dp.LayerDone(); cycles++ {
		if cycles > 500000 {
			t.Fatalf("layer 0 did not finish within 500000 cycles")
		}
		dp.Cycle()
	}

	want := refConvLayer(input, layer, weights[0], biases, scale)

	pooledWidth := layer.ImgWidth / misc.PoolSize
	outGroups := (layer.OutputChannels + misc.ChannelGroupSize - 1) / misc.ChannelGroupSize
	for r := range want {
		for c := range want[r] {
			for ch := range want[r][c] {
				address := mem.TensorByteAddress(r, c, ch, pooledWidth, outGroups)
				got := tensorRam.PeekByte(1, address)
				if got != want[r][c][ch] {
					t.Fatalf(
						"pooled output (%d,%d,%d): got %d, want %d",
						r, c, ch, got, want[r][c][ch],
					)
				}
			}
		}
	}
}

func writeHexBytes(t *testing.T, filepath string, bytes []uint8) {
	t.Helper()

	lines := make([]byte, 0, 3*len(bytes))
	for _, value := range bytes {
		lines = append(lines, fmt.Sprintf("%02x\n", value)...)
	}
	if err := os.WriteFile(filepath, lines, 0o644); err != nil {
		t.Fatalf("cannot write %s: %v", filepath, err)
	}
}

func writeHexWords(t *testing.T, filepath string, words []uint64) {
	t.Helper()

	lines := make([]byte, 0, 17*len(words))
	for _, value := range words {
		lines = append(lines, fmt.Sprintf("%x\n", value)...)
	}
	if err := os.WriteFile(filepath, lines, 0o644); err != nil {
		t.Fatalf("cannot write %s: %v", filepath, err)
	}
}

func scaleWord(params quant.ScaleParams) uint64 {
	return uint64(uint32(params.Multiplier)) | uint64(params.Shift&0x3f)<<32
}

func TestFullInferenceMatchesReference(t *testing.T) {
	t.Parallel()

	config := new(misc.ConfigLoader)
	config.Init()
	defer config.Fini()

	rng := rand.New(rand.NewSource(0xcafe))

	scales := [misc.NumLayers]quant.ScaleParams{
		{Multiplier: 1 << 22, Shift: 0},
		{Multiplier: 1 << 22, Shift: 2},
		{Multiplier: 1 << 23, Shift: 2},
		{Multiplier: 1 << 23, Shift: 2},
		{Multiplier: 1 << 21, Shift: 0},
		{Multiplier: 1 << 21, Shift: 0},
	}

	image := randomTensor(rng, 32, 32, 1)

	var convW [misc.NumConvLayers]convWeights
	allBiases := make([]int32, 0, config.BiasRomEntries())
	for l := 0; l < misc.NumConvLayers; l++ {
		convW[l] = randomConvWeights(rng, config.Layer(l))
		allBiases = append(allBiases, randomBiases(rng, config.Layer(l).OutputChannels)...)
	}

	denseW := make([][][]int8, misc.NumLayers-misc.NumConvLayers)
	for l := misc.NumConvLayers; l < misc.NumLayers; l++ {
		layer := config.Layer(l)
		w := make([][]int8, layer.InputSize)
		for i := range w {
			w[i] = make([]int8, layer.OutputSize)
			for o := range w[i] {
				w[i][o] = int8(rng.Intn(256) - 128)
			}
		}
		denseW[l-misc.NumConvLayers] = w
		allBiases = append(allBiases, randomBiases(rng, layer.OutputSize)...)
	}

	denseBytes := make([]uint8, config.DenseRomBytes())
	for l := misc.NumConvLayers; l < misc.NumLayers; l++ {
		layer := config.Layer(l)
		base := config.DenseRomBase(l)
		w := denseW[l-misc.NumConvLayers]
		for i := 0; i < layer.InputSize; i++ {
			for o := 0; o < layer.OutputSize; o++ {
				denseBytes[base+i*layer.OutputSize+o] = uint8(w[i][o])
			}
		}
	}

	biasWords := make([]uint64, len(allBiases))
	for i, bias := range allBiases {
		biasWords[i] = uint64(uint32(bias))
	}
	scaleWords := make([]uint64, misc.NumLayers)
	for i, params := range scales {
		scaleWords[i] = scaleWord(params)
	}

	dir := t.TempDir()
	writeHexBytes(t, filepath.Join(dir, "image.hex"), tensorBytes(image, 32, 1))
	writeHexBytes(t, filepath.Join(dir, "weight.hex"), convWeightBytes(config, convW))
	writeHexBytes(t, filepath.Join(dir, "dense.hex"), denseBytes)
	writeHexWords(t, filepath.Join(dir, "bias.hex"), biasWords)
	writeHexWords(t, filepath.Join(dir, "scale.hex"), scaleWords)

	parser := new(misc.CommandLineParser)
	parser.Init()
	parser.AddOption(misc.INT, "max_cycles", "2000000", "")
	parser.AddOption(misc.INT, "verbose", "0", "")
	parser.AddOption(misc.STRING, "image_filepath", filepath.Join(dir, "image.hex"), "")
	parser.AddOption(misc.STRING, "weight_filepath", filepath.Join(dir, "weight.hex"), "")
	parser.AddOption(misc.STRING, "dense_filepath", filepath.Join(dir, "dense.hex"), "")
	parser.AddOption(misc.STRING, "bias_filepath", filepath.Join(dir, "bias.hex"), "")
	parser.AddOption(misc.STRING, "scale_filepath", filepath.Join(dir, "scale.hex"), "")
	parser.AddOption(misc.STRING, "log_dirpath", dir, "")
	parser.Parse([]string{"tinytpu"})

	sim := new(Simulator)
	sim.Init(parser)
	for !sim.IsFinished() {
		sim.Cycle()
	}
	sim.Dump()

	// Reference network.
	tensor := image
	biasBase := 0
	for l := 0; l < misc.NumConvLayers; l++ {
		layer := config.Layer(l)
		tensor = refConvLayer(
			tensor,
			layer,
			convW[l],
			allBiases[biasBase:biasBase+layer.OutputChannels],
			scales[l],
		)
		biasBase += layer.OutputChannels
	}

	flatLayer := config.Layer(misc.NumConvLayers)
	flat := make([]int8, flatLayer.InputSize)
	flatWidth := len(tensor[0])
	flatGroups := (len(tensor[0][0]) + misc.ChannelGroupSize - 1) / misc.ChannelGroupSize
	for r := range tensor {
		for c := range tensor[r] {
			for ch := range tensor[r][c] {
				flat[mem.TensorByteAddress(r, c, ch, flatWidth, flatGroups)] = tensor[r][c][ch]
			}
		}
	}

	hidden := refDense(
		flat,
		denseW[0],
		allBiases[biasBase:biasBase+config.Layer(4).OutputSize],
		scales[4],
		false,
	)
	biasBase += config.Layer(4).OutputSize

	logitsSlice := refDense(
		hidden,
		denseW[1],
		allBiases[biasBase:biasBase+config.Layer(5).OutputSize],
		scales[5],
		true,
	)

	var logits [misc.NumClasses]int8
	copy(logits[:], logitsSlice)
	wantProbs, wantArg := refSoftmax(logits)

	if got := sim.ArgMax(); got != wantArg {
		t.Fatalf("predicted class: got %d, want %d", got, wantArg)
	}
	if got := sim.Probabilities(); got != wantProbs {
		t.Fatalf("probabilities:\ngot  %v\nwant %v", got, wantProbs)
	}

	if _, err := os.Stat(filepath.Join(dir, "stats.txt")); err != nil {
		t.Fatalf("stats dump missing: %v", err)
	}

	sim.Fini()
}
