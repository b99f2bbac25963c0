package misc

import (
	"fmt"
	"sort"
)

// StatFactory accumulates named counters for one component instance and
// renders them for the end-of-simulation dump.
type StatFactory struct {
	name  string
	stats map[string]int64
}

func (this *StatFactory) Init(name string) {
	this.name = name
	this.stats = make(map[string]int64)
}

func (this *StatFactory) Fini() {
	this.stats = nil
}

func (this *StatFactory) Name() string {
	return this.name
}

func (this *StatFactory) Increment(stat string, value int64) {
	this.stats[stat] += value
}

func (this *StatFactory) Overwrite(stat string, value int64) {
	this.stats[stat] = value
}

func (this *StatFactory) Value(stat string) int64 {
	return this.stats[stat]
}

func (this *StatFactory) ToLines() []string {
	keys := make([]string, 0, len(this.stats))
	for key := range this.stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s_%s: %d", this.name, key, this.stats[key]))
	}
	return lines
}
