package misc

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HexLoader reads newline-separated hex memory images in the format emitted
// by the model conversion scripts: one value per line, '#' and '//' comments
// and blank lines ignored.
type HexLoader struct {
	filepath string
}

func (this *HexLoader) Init(filepath string) {
	this.filepath = filepath
}

func (this *HexLoader) Fini() {
}

// Bytes parses every line as one unsigned byte.
func (this *HexLoader) Bytes() []uint8 {
	lines := this.lines()

	bytes := make([]uint8, 0, len(lines))
	for _, line := range lines {
		value, parse_err := strconv.ParseUint(line, 16, 8)
		if parse_err != nil {
			err := fmt.Errorf("hex image %s: bad byte line %q", this.filepath, line)
			panic(err)
		}
		bytes = append(bytes, uint8(value))
	}
	return bytes
}

// Words parses every line as one value of up to 64 bits.
func (this *HexLoader) Words() []uint64 {
	lines := this.lines()

	words := make([]uint64, 0, len(lines))
	for _, line := range lines {
		value, parse_err := strconv.ParseUint(line, 16, 64)
		if parse_err != nil {
			err := fmt.Errorf("hex image %s: bad word line %q", this.filepath, line)
			panic(err)
		}
		words = append(words, value)
	}
	return words
}

func (this *HexLoader) lines() []string {
	file, open_err := os.Open(this.filepath)
	if open_err != nil {
		err := fmt.Errorf("hex image %s cannot be opened: %w", this.filepath, open_err)
		panic(err)
	}
	defer file.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		lines = append(lines, line)
	}

	if scan_err := scanner.Err(); scan_err != nil {
		err := fmt.Errorf("hex image %s cannot be read: %w", this.filepath, scan_err)
		panic(err)
	}

	return lines
}

// FileDumper writes text lines to a file, creating parent-relative paths as
// given. Used for the stat dump.
type FileDumper struct {
	filepath string
}

func (this *FileDumper) Init(filepath string) {
	this.filepath = filepath
}

func (this *FileDumper) Fini() {
}

func (this *FileDumper) WriteLines(lines []string) {
	file, create_err := os.Create(this.filepath)
	if create_err != nil {
		err := fmt.Errorf("file %s cannot be created: %w", this.filepath, create_err)
		panic(err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, line := range lines {
		if _, write_err := writer.WriteString(line + "\n"); write_err != nil {
			err := fmt.Errorf("file %s cannot be written: %w", this.filepath, write_err)
			panic(err)
		}
	}

	if flush_err := writer.Flush(); flush_err != nil {
		err := fmt.Errorf("file %s cannot be flushed: %w", this.filepath, flush_err)
		panic(err)
	}
}
