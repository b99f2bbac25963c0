package pool

import (
	"math/rand"
	"testing"

	"tinytpu/src/misc"
	"tinytpu/src/simulator/quant"
	"tinytpu/src/simulator/sta"
)

func TestRequantizeUnitLanes(t *testing.T) {
	t.Parallel()

	unit := NewRequantizeUnit()
	unit.Configure(quant.ScaleParams{Multiplier: 1 << 30, Shift: 0}, false)

	unit.SetLane(0, true, sta.Result{Row: 5, Col: 6, Value: 100})
	unit.SetLane(2, true, sta.Result{Row: 7, Col: 1, Value: -100})
	unit.Cycle()

	if !unit.LaneValid(0) || !unit.LaneValid(2) {
		t.Fatalf("driven lanes not valid")
	}
	if unit.LaneValid(1) || unit.LaneValid(3) {
		t.Fatalf("undriven lanes valid")
	}

	if got := unit.Lane(0); got != (Quantized{Row: 5, Col: 6, Value: -78}) {
		t.Fatalf("lane 0 = %+v, want {5 6 -78}", got)
	}
	if got := unit.Lane(2); got != (Quantized{Row: 7, Col: 1, Value: -128}) {
		t.Fatalf("lane 2 = %+v, want {7 1 -128}", got)
	}

	// Valids drop when nothing is presented.
	unit.Cycle()
	if unit.LaneValid(0) || unit.LaneValid(2) {
		t.Fatalf("lanes stayed valid without input")
	}
}

func TestRequantizeUnitSpecialZeroPoint(t *testing.T) {
	t.Parallel()

	unit := NewRequantizeUnit()
	unit.Configure(quant.ScaleParams{Multiplier: 1 << 30, Shift: 0}, true)

	unit.SetLane(0, true, sta.Result{Value: 0})
	unit.Cycle()

	if got := unit.Lane(0).Value; got != -1 {
		t.Fatalf("special zero point output = %d, want -1", got)
	}
}

func TestMaxpoolEmitsBlockMax(t *testing.T) {
	t.Parallel()

	unit := NewMaxpoolUnit()
	unit.Configure(8, 12, false)

	values := []Quantized{
		{Row: 8, Col: 12, Value: -5},
		{Row: 8, Col: 13, Value: 3},
		{Row: 9, Col: 12, Value: -128},
		{Row: 9, Col: 13, Value: 2},
	}
	for i, entry := range values {
		unit.SetLane(0, true, entry)
		unit.Cycle()

		if i < len(values)-1 {
			if unit.OutValid() {
				t.Fatalf("output before block complete (after %d values)", i+1)
			}
			if unit.Idle() {
				t.Fatalf("idle with valid cells pending")
			}
		}
	}

	if !unit.OutValid() {
		t.Fatalf("no output after block completed")
	}
	if got := unit.Out(); got != (Quantized{Row: 8, Col: 12, Value: 3}) {
		t.Fatalf("pooled output = %+v, want {8 12 3}", got)
	}

	// Cleared block must not re-emit.
	unit.Cycle()
	if unit.OutValid() {
		t.Fatalf("block re-emitted after clear")
	}
	if !unit.Idle() {
		t.Fatalf("unit not idle after the block drained")
	}
}

func TestMaxpoolFullTileScatteredArrival(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(5))

	var tile [misc.SaN][misc.SaN]int8
	for r := 0; r < misc.SaN; r++ {
		for c := 0; c < misc.SaN; c++ {
			tile[r][c] = int8(rng.Intn(256) - 128)
		}
	}

	var order []Quantized
	for r := 0; r < misc.SaN; r++ {
		for c := 0; c < misc.SaN; c++ {
			order = append(order, Quantized{Row: r, Col: c, Value: tile[r][c]})
		}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	unit := NewMaxpoolUnit()
	unit.Configure(0, 0, false)

	got := map[[2]int]int8{}
	feed := 0
	for cycle := 0; cycle < 64 && (feed < len(order) || !unit.Idle()); cycle++ {
		if feed < len(order) {
			unit.SetLane(0, true, order[feed])
			feed++
		}
		unit.Cycle()
		if unit.OutValid() {
			out := unit.Out()
			if _, dup := got[[2]int{out.Row, out.Col}]; dup {
				t.Fatalf("block (%d,%d) emitted twice", out.Row, out.Col)
			}
			got[[2]int{out.Row, out.Col}] = out.Value
		}
	}

	if len(got) != 4 {
		t.Fatalf("emitted %d blocks, want 4", len(got))
	}
	for br := 0; br < misc.SaN; br += misc.PoolSize {
		for bc := 0; bc < misc.SaN; bc += misc.PoolSize {
			max := tile[br][bc]
			for r := br; r < br+misc.PoolSize; r++ {
				for c := bc; c < bc+misc.PoolSize; c++ {
					if tile[r][c] > max {
						max = tile[r][c]
					}
				}
			}
			if got[[2]int{br, bc}] != max {
				t.Fatalf("block (%d,%d) = %d, want %d", br, bc, got[[2]int{br, bc}], max)
			}
		}
	}
}

func TestMaxpoolSimultaneousRowArrival(t *testing.T) {
	t.Parallel()

	unit := NewMaxpoolUnit()
	unit.Configure(0, 0, false)

	// Two coordinator rows arriving as full 4-lane writes complete the two
	// top blocks; the scan picks the leftmost first.
	for row := 0; row < misc.PoolSize; row++ {
		for lane := 0; lane < misc.SaN; lane++ {
			unit.SetLane(lane, true, Quantized{Row: row, Col: lane, Value: int8(10*row + lane)})
		}
		unit.Cycle()
	}

	if !unit.OutValid() {
		t.Fatalf("no output after two full rows")
	}
	if got := unit.Out(); got != (Quantized{Row: 0, Col: 0, Value: 11}) {
		t.Fatalf("first block = %+v, want {0 0 11}", got)
	}

	unit.Cycle()
	if got := unit.Out(); !unit.OutValid() || got != (Quantized{Row: 0, Col: 2, Value: 13}) {
		t.Fatalf("second block = %+v (valid %v), want {0 2 13}", got, unit.OutValid())
	}

	unit.Cycle()
	if unit.OutValid() {
		t.Fatalf("spurious third block")
	}
}

func TestMaxpoolBypassRoutesFirstValidLane(t *testing.T) {
	t.Parallel()

	unit := NewMaxpoolUnit()
	unit.Configure(0, 0, true)

	unit.SetLane(1, true, Quantized{Row: 3, Col: 0, Value: 42})
	unit.SetLane(2, true, Quantized{Row: 3, Col: 1, Value: 43})
	unit.Cycle()

	if !unit.OutValid() {
		t.Fatalf("bypass produced no output")
	}
	if got := unit.Out(); got != (Quantized{Row: 3, Col: 0, Value: 42}) {
		t.Fatalf("bypass output = %+v, want lane 1's entry", got)
	}

	unit.Cycle()
	if unit.OutValid() {
		t.Fatalf("bypass output without input")
	}
}

func TestMaxpoolTagOutsideTilePanics(t *testing.T) {
	t.Parallel()

	unit := NewMaxpoolUnit()
	unit.Configure(4, 4, false)

	defer func() {
		if recover() == nil {
			t.Fatalf("out-of-tile tag did not panic")
		}
	}()

	unit.SetLane(0, true, Quantized{Row: 0, Col: 0, Value: 1})
	unit.Cycle()
}