package misc

import "errors"

type CommandLineValidator struct {
	command_line_parser *CommandLineParser
}

func (this *CommandLineValidator) Init(command_line_parser *CommandLineParser) {
	this.command_line_parser = command_line_parser
}

func (this *CommandLineValidator) Validate() {
	if this.command_line_parser.IntParameter("max_cycles") <= 0 {
		err := errors.New("max_cycles <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("verbose") < 0 {
		err := errors.New("verbose < 0")
		panic(err)
	}
}
