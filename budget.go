package webrtimaker

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const bytesPerPixel = 4

// Budget accounts for the decoded pixel data the splitter keeps resident
// while it processes one layer: every native layer the source holds at
// once, the largest level derived from the current one and one tile buffer
// per in-flight encoder. The decode peak of the source is checked on its
// own, since it is over before the first level is derived.
type Budget struct {
	Limit int64
}

func NewBudget(megabytes int) Budget {
	return Budget{Limit: int64(megabytes) << 20}
}

func levelBytes(l Level) int64 {
	return int64(l.Width) * int64(l.Height) * bytesPerPixel
}

// TileBytes is the size of the largest tile buffer of the pyramid.
func TileBytes(p Pyramid) int64 {
	n := p.Native()
	return int64(min(p.TileSize, n.Width)) * int64(min(p.TileSize, n.Height)) * bytesPerPixel
}

// LayerBytes is the resident size of one layer without encode buffers.
func LayerBytes(p Pyramid) int64 {
	total := levelBytes(p.Native())
	if len(p.Levels) > 1 {
		total += levelBytes(p.Levels[len(p.Levels)-2])
	}
	return total
}

// Check returns how many of the requested encoders fit in the budget.
// resident is the number of native layers held at once and load the
// source's peak while decoding, 0 when unknown. It fails when not even one
// encoder fits.
func (b Budget) Check(p Pyramid, workers, resident int, load int64) (int, error) {
	native := levelBytes(p.Native())
	held := int64(max(resident, 1)) * native
	if peak := max(load, held); peak > b.Limit {
		return 0, fmt.Errorf("%w: decoding needs %d MB, limit is %d MB",
			ErrMemoryBudget, mb(peak), mb(b.Limit))
	}
	layer := held - native + LayerBytes(p)
	tile := TileBytes(p)
	if layer+tile > b.Limit {
		return 0, fmt.Errorf("%w: one layer with its levels needs %d MB, limit is %d MB",
			ErrMemoryBudget, mb(layer+tile), mb(b.Limit))
	}
	fit := int((b.Limit - layer) / tile)
	return max(1, min(workers, fit)), nil
}

func mb(n int64) int64 {
	return (n + 1<<20 - 1) >> 20
}

// releaseMemory hands freed layer buffers back to the OS before the next
// layer is decoded.
func releaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
