package misc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type OptionKind int

const (
	INT OptionKind = iota
	STRING
)

type Option struct {
	kind          OptionKind
	name          string
	help_msg      string
	default_value string
	value         string
	is_set        bool
}

// CommandLineParser collects the registered options, parses os.Args style
// argument vectors and hands out typed parameters to the rest of the
// simulator.
type CommandLineParser struct {
	options map[string]*Option
	args    []string
}

func (this *CommandLineParser) Init() {
	this.options = make(map[string]*Option)
	this.args = nil
}

func (this *CommandLineParser) AddOption(
	kind OptionKind,
	name string,
	default_value string,
	help_msg string,
) {
	if _, found := this.options[name]; found {
		err := fmt.Errorf("option %s is already registered", name)
		panic(err)
	}

	option := new(Option)
	option.kind = kind
	option.name = name
	option.help_msg = help_msg
	option.default_value = default_value
	option.value = default_value
	option.is_set = false

	this.options[name] = option
}

func (this *CommandLineParser) Parse(args []string) {
	this.args = args

	i := 1
	for i < len(args) {
		arg := args[i]

		if !strings.HasPrefix(arg, "--") {
			err := fmt.Errorf("unexpected argument %s", arg)
			panic(err)
		}

		name := strings.TrimPrefix(arg, "--")
		value := ""
		has_value := false

		if eq := strings.Index(name, "="); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			has_value = true
		}

		option, found := this.options[name]
		if !found {
			err := fmt.Errorf("option %s is not registered", name)
			panic(err)
		}

		if !has_value {
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				value = args[i+1]
				i++
			} else {
				// Flag style, e.g. --help.
				value = "1"
			}
		}

		option.value = value
		option.is_set = true
		i++
	}
}

func (this *CommandLineParser) IsArgSet(name string) bool {
	option, found := this.options[name]
	if !found {
		return false
	}
	return option.is_set
}

func (this *CommandLineParser) IntParameter(name string) int64 {
	option := this.option(name)

	if option.kind != INT {
		err := fmt.Errorf("option %s is not an int option", name)
		panic(err)
	}

	value, parse_err := strconv.ParseInt(option.value, 10, 64)
	if parse_err != nil {
		err := fmt.Errorf("option %s has a non-integer value %s", name, option.value)
		panic(err)
	}

	return value
}

func (this *CommandLineParser) StringParameter(name string) string {
	option := this.option(name)

	if option.kind != STRING {
		err := fmt.Errorf("option %s is not a string option", name)
		panic(err)
	}

	return option.value
}

func (this *CommandLineParser) StringifyHelpMsgs() string {
	names := make([]string, 0, len(this.options))
	for name := range this.options {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		option := this.options[name]
		lines = append(
			lines,
			fmt.Sprintf("--%s (default: %s)\n    %s", option.name, option.default_value, option.help_msg),
		)
	}

	return strings.Join(lines, "\n") + "\n"
}

func (this *CommandLineParser) StringifyArgs() string {
	return strings.Join(this.args, " ")
}

func (this *CommandLineParser) StringifyOptions() string {
	names := make([]string, 0, len(this.options))
	for name := range this.options {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		option := this.options[name]
		lines = append(lines, fmt.Sprintf("%s=%s", option.name, option.value))
	}

	return strings.Join(lines, "\n")
}

func (this *CommandLineParser) option(name string) *Option {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("option %s is not registered", name)
		panic(err)
	}
	return option
}
