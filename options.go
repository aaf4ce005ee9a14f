package webrtimaker

import (
	"fmt"
	"image"
	"runtime"
	"strings"

	"github.com/setanarut/webrtimaker/utils"
)

// Geometry is the light sampling dome used when the asset was captured.
// It is recorded for the viewer and plays no part in resampling.
type Geometry int

const (
	GeometryPlane Geometry = iota
	GeometryHalfDome
)

func (g Geometry) String() string {
	switch g {
	case GeometryPlane:
		return "PLANE"
	case GeometryHalfDome:
		return "HALFDOME"
	default:
		return fmt.Sprintf("Geometry(%d)", int(g))
	}
}

func ParseGeometry(s string) (Geometry, error) {
	switch s {
	case "PLANE":
		return GeometryPlane, nil
	case "HALFDOME":
		return GeometryHalfDome, nil
	}
	return 0, fmt.Errorf("%w: unknown geometry %q", ErrConfig, s)
}

// Strategy selects the tile layout on disk.
type Strategy int

const (
	// StrategyImageTree nests tiles as a quadtree: a tile at level k covers
	// the 2x2 block of tiles below it at level k+1.
	StrategyImageTree Strategy = iota
	// StrategyIIIF writes one IIIF Image API tree per layer.
	StrategyIIIF
)

func (s Strategy) String() string {
	switch s {
	case StrategyImageTree:
		return "IMAGE_TREE"
	case StrategyIIIF:
		return "IIIF"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "IMAGE_TREE":
		return StrategyImageTree, nil
	case "IIIF":
		return StrategyIIIF, nil
	}
	return 0, fmt.Errorf("%w: unknown multires strategy %q", ErrConfig, s)
}

// Format is the tile image encoding.
type Format int

const (
	FormatPNG Format = iota
	FormatJPG
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPG:
		return "jpg"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	}
	return 0, fmt.Errorf("%w: unknown tile format %q (supported: png, jpg)", ErrConfig, s)
}

type Options struct {
	// Edge length of a square tile in pixels. Ignored by StrategyIIIF.
	TileSize int
	// Ceiling for decoded pixel data held by the splitter, in megabytes.
	RAMLimit int
	// Encoder quality in [0,100]. Only meaningful for FormatJPG.
	Quality  int
	Format   Format
	Geometry Geometry
	Strategy Strategy
	// Upper bound for concurrent tile encoders. The memory budget may lower it.
	Workers int
	// Optional sub-region of the source in source pixel coordinates.
	Clip image.Rectangle
	// Number of colors in palette.png; 0 disables the swatch.
	PaletteSize   int
	PaletteMethod utils.PaletteMethod
	Verbose       bool
}

func DefaultOptions() Options {
	return Options{
		TileSize:      256,
		RAMLimit:      1024,
		Quality:       100,
		Format:        FormatPNG,
		Geometry:      GeometryPlane,
		Strategy:      StrategyImageTree,
		Workers:       runtime.NumCPU(),
		PaletteMethod: utils.PaletteMethodDominantColor,
	}
}

// Validate rejects configurations before any processing begins.
func (o Options) Validate() error {
	if o.TileSize <= 0 {
		return fmt.Errorf("%w: tile size must be positive, got %d", ErrConfig, o.TileSize)
	}
	if o.RAMLimit <= 0 {
		return fmt.Errorf("%w: RAM limit must be positive, got %d", ErrConfig, o.RAMLimit)
	}
	if o.Quality < 0 || o.Quality > 100 {
		return fmt.Errorf("%w: quality must be in [0,100], got %d", ErrConfig, o.Quality)
	}
	if o.Format != FormatPNG && o.Format != FormatJPG {
		return fmt.Errorf("%w: unknown tile format %v", ErrConfig, o.Format)
	}
	if o.Geometry != GeometryPlane && o.Geometry != GeometryHalfDome {
		return fmt.Errorf("%w: unknown geometry %v", ErrConfig, o.Geometry)
	}
	if o.Strategy != StrategyImageTree && o.Strategy != StrategyIIIF {
		return fmt.Errorf("%w: unknown multires strategy %v", ErrConfig, o.Strategy)
	}
	if o.PaletteSize < 0 {
		return fmt.Errorf("%w: palette size must not be negative, got %d", ErrConfig, o.PaletteSize)
	}
	return nil
}

func (o Options) workers() int {
	return max(o.Workers, 1)
}
