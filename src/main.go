package main

import (
	"fmt"
	"os"
	"path/filepath"
	"tinytpu/src/misc"
	"tinytpu/src/simulator"
)

func main() {
	command_line_parser := InitCommandLineParser()
	command_line_parser.Parse(os.Args)

	if command_line_parser.IsArgSet("help") {
		fmt.Printf("%s", command_line_parser.StringifyHelpMsgs())
	} else {
		command_line_validator := new(misc.CommandLineValidator)
		command_line_validator.Init(command_line_parser)
		command_line_validator.Validate()

		log_dirpath := command_line_parser.StringParameter("log_dirpath")
		args_filepath := filepath.Join(log_dirpath, "args.txt")
		options_filepath := filepath.Join(log_dirpath, "options.txt")

		args_file_dumper := new(misc.FileDumper)
		args_file_dumper.Init(args_filepath)
		args_file_dumper.WriteLines([]string{command_line_parser.StringifyArgs()})

		options_file_dumper := new(misc.FileDumper)
		options_file_dumper.Init(options_filepath)
		options_file_dumper.WriteLines([]string{command_line_parser.StringifyOptions()})

		simulator_ := new(simulator.Simulator)
		simulator_.Init(command_line_parser)

		for !simulator_.IsFinished() {
			simulator_.Cycle()
		}

		simulator_.Dump()

		fmt.Printf("predicted class: %d (%d cycles)\n", simulator_.ArgMax(), simulator_.NumCycles())
		for class, prob := range simulator_.Probabilities() {
			fmt.Printf("class %d: %.6f\n", class, float64(prob)/float64(int64(1)<<31))
		}

		simulator_.Fini()
	}
}

func InitCommandLineParser() *misc.CommandLineParser {
	command_line_parser := new(misc.CommandLineParser)
	command_line_parser.Init()

	command_line_parser.AddOption(misc.INT, "help", "0", "print option descriptions and exit")

	// NOTE: Explanation of verbose level
	// level 0: Only prints simulation output
	// level 1: level 0 + prints the finish cycle of each layer
	command_line_parser.AddOption(misc.INT, "verbose", "0", "verbosity of the simulation")

	command_line_parser.AddOption(
		misc.INT,
		"max_cycles",
		"10000000",
		"abort if the simulation has not finished after this many cycles",
	)

	command_line_parser.AddOption(
		misc.STRING,
		"image_filepath",
		"image.hex",
		"input image bytes, one hex byte per line",
	)
	command_line_parser.AddOption(
		misc.STRING,
		"weight_filepath",
		"weight.hex",
		"conv kernel ROM bytes, one hex byte per line",
	)
	command_line_parser.AddOption(
		misc.STRING,
		"dense_filepath",
		"dense.hex",
		"dense kernel ROM bytes, one hex byte per line",
	)
	command_line_parser.AddOption(
		misc.STRING,
		"bias_filepath",
		"bias.hex",
		"bias ROM entries, one 32-bit hex word per line",
	)
	command_line_parser.AddOption(
		misc.STRING,
		"scale_filepath",
		"scale.hex",
		"requantization ROM entries, one 64-bit hex word per line",
	)

	command_line_parser.AddOption(
		misc.STRING,
		"log_dirpath",
		".",
		"directory for the args, options and stats dumps",
	)

	return command_line_parser
}
