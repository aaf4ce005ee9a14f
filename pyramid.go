package webrtimaker

import (
	"fmt"
	"image"
)

// IIIFSmallestSize bounds the coarsest IIIF scale factor: factors are
// declared until the longest side of the level fits in it.
const IIIFSmallestSize = 256

// maxTreeLevels keeps (4^L - 1) / 3 node indices within 63 bits.
const maxTreeLevels = 31

// Level is one resolution of the pyramid. ScaleFactor is the linear
// downsampling factor relative to the native resolution.
type Level struct {
	Index       int
	Width       int
	Height      int
	Cols        int
	Rows        int
	ScaleFactor int
}

// TileRect returns the level pixels covered by tile (row, col). Edge tiles
// are truncated to the level extent.
func (l Level) TileRect(row, col, tileSize int) image.Rectangle {
	r := image.Rect(col*tileSize, row*tileSize, (col+1)*tileSize, (row+1)*tileSize)
	return r.Intersect(image.Rect(0, 0, l.Width, l.Height))
}

func (l Level) NumTiles() int {
	return l.Cols * l.Rows
}

type TileID struct {
	Level int
	Row   int
	Col   int
}

// Pyramid is the geometry of a tile pyramid. Levels[0] is the coarsest
// level and Levels[len-1] the native resolution.
type Pyramid struct {
	Strategy Strategy
	Width    int
	Height   int
	// TileSize is the effective tile size, after the IIIF override.
	TileSize          int
	RequestedTileSize int
	Levels            []Level
}

// NumLevels returns ceil(log2(max(w,h)/tileSize)) + 1, at least 1.
func NumLevels(w, h, tileSize int) int {
	longest := max(w, h)
	n := 1
	for size := tileSize; size < longest; size *= 2 {
		n++
	}
	return n
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// PlanPyramid computes the levels and tile grids for a w x h source.
// StrategyIIIF ignores tileSize and uses the smallest power of two that
// covers the longest side, so a single tile spans each level.
func PlanPyramid(w, h, tileSize int, strategy Strategy) (Pyramid, error) {
	if w <= 0 || h <= 0 {
		return Pyramid{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSource, w, h)
	}
	if tileSize <= 0 {
		return Pyramid{}, fmt.Errorf("%w: tile size must be positive, got %d", ErrConfig, tileSize)
	}
	p := Pyramid{
		Strategy:          strategy,
		Width:             w,
		Height:            h,
		TileSize:          tileSize,
		RequestedTileSize: tileSize,
	}
	var n int
	switch strategy {
	case StrategyImageTree:
		n = NumLevels(w, h, tileSize)
		if n > maxTreeLevels {
			return Pyramid{}, fmt.Errorf("%w: %d levels overflow the node index", ErrConfig, n)
		}
	case StrategyIIIF:
		p.TileSize = NextPowerOfTwo(max(w, h))
		n = NumLevels(w, h, IIIFSmallestSize)
	default:
		return Pyramid{}, fmt.Errorf("%w: unknown multires strategy %v", ErrConfig, strategy)
	}
	p.Levels = make([]Level, n)
	for k := range n {
		f := 1 << (n - 1 - k)
		lw, lh := ceilDiv(w, f), ceilDiv(h, f)
		p.Levels[k] = Level{
			Index:       k,
			Width:       lw,
			Height:      lh,
			Cols:        ceilDiv(lw, p.TileSize),
			Rows:        ceilDiv(lh, p.TileSize),
			ScaleFactor: f,
		}
	}
	return p, nil
}

func (p Pyramid) NumLevels() int {
	return len(p.Levels)
}

func (p Pyramid) Native() Level {
	return p.Levels[len(p.Levels)-1]
}

// NodeCount is the size of the full quadtree the viewer walks,
// (4^L - 1) / 3 for L levels. Nodes outside the content have no tile.
func (p Pyramid) NodeCount() int {
	return (1<<(2*len(p.Levels)) - 1) / 3
}

// MaxResolution is the extent the viewer maps the tree onto. An IMAGE_TREE
// root covers a square of TileSize * 2^(L-1) pixels with the content in its
// top-left corner; IIIF images are addressed in content pixels.
func (p Pyramid) MaxResolution() (w, h int) {
	if p.Strategy == StrategyIIIF {
		return p.Width, p.Height
	}
	side := p.TileSize << (len(p.Levels) - 1)
	return side, side
}

// ScaleFactors lists the level factors from native to coarsest, the order
// IIIF info.json expects.
func (p Pyramid) ScaleFactors() []int {
	out := make([]int, 0, len(p.Levels))
	for k := len(p.Levels) - 1; k >= 0; k-- {
		out = append(out, p.Levels[k].ScaleFactor)
	}
	return out
}

// Tiles enumerates every tile of level k in row-major order.
func (p Pyramid) Tiles(k int) []TileID {
	l := p.Levels[k]
	out := make([]TileID, 0, l.NumTiles())
	for row := range l.Rows {
		for col := range l.Cols {
			out = append(out, TileID{Level: k, Row: row, Col: col})
		}
	}
	return out
}

// NodeIndex is the breadth-first position of t in the quadtree. The
// children of node n are 4n+1 to 4n+4 in the order top-left, top-right,
// bottom-left, bottom-right.
func (p Pyramid) NodeIndex(t TileID) int {
	n := (1<<(2*t.Level) - 1) / 3
	for bit := range t.Level {
		n += (t.Row>>bit&1)<<(2*bit+1) | (t.Col>>bit&1)<<(2*bit)
	}
	return n
}
