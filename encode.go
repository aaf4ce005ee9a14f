package webrtimaker

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Encoder writes one tile in a fixed image format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
	// Extension returns the file extension without the dot.
	Extension() string
}

// NewEncoder returns the encoder for format. Quality only affects lossy
// formats.
func NewEncoder(format Format, quality int) (Encoder, error) {
	switch format {
	case FormatPNG:
		return &PNGEncoder{enc: png.Encoder{
			CompressionLevel: png.DefaultCompression,
			BufferPool:       &pngBufferPool{},
		}}, nil
	case FormatJPG:
		return &JPEGEncoder{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tile format %v", ErrConfig, format)
	}
}

type PNGEncoder struct {
	enc png.Encoder
}

func (e *PNGEncoder) Encode(w io.Writer, img image.Image) error {
	return e.enc.Encode(w, img)
}

func (e *PNGEncoder) Extension() string { return "png" }

type pngBufferPool struct {
	pool sync.Pool
}

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *pngBufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

type JPEGEncoder struct {
	Quality int
}

func (e *JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	// image/jpeg treats anything below 1 as 1.
	q := min(max(e.Quality, 1), 100)
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

func (e *JPEGEncoder) Extension() string { return "jpg" }

// TilePath returns where tile t of the given layer is stored below dest.
//
//	IMAGE_TREE  <node+1>_<layer+1>.<ext>
//	IIIF        layer<layer+1>/<x>,<y>,<w>,<h>/<tw>,<th>/0/default.<ext>
//
// node is the breadth-first quadtree index from Pyramid.NodeIndex, the
// name the viewer requests. IIIF regions are expressed in native pixel
// coordinates.
func TilePath(dest string, p Pyramid, t TileID, layer int, ext string) string {
	if p.Strategy == StrategyIIIF {
		l := p.Levels[t.Level]
		r := l.TileRect(t.Row, t.Col, p.TileSize)
		region := fmt.Sprintf("%d,%d,%d,%d",
			r.Min.X*l.ScaleFactor, r.Min.Y*l.ScaleFactor,
			min(r.Dx()*l.ScaleFactor, p.Width-r.Min.X*l.ScaleFactor),
			min(r.Dy()*l.ScaleFactor, p.Height-r.Min.Y*l.ScaleFactor))
		size := fmt.Sprintf("%d,%d", r.Dx(), r.Dy())
		return filepath.Join(dest, IIIFLayerDir(layer), region, size, "0", "default."+ext)
	}
	name := strconv.Itoa(p.NodeIndex(t)+1) + "_" + strconv.Itoa(layer+1)
	return filepath.Join(dest, name+"."+ext)
}

// IIIFLayerDir is the directory holding the IIIF image of one layer.
func IIIFLayerDir(layer int) string {
	return "layer" + strconv.Itoa(layer+1)
}

// TilePattern documents the naming convention in the descriptor.
func TilePattern(s Strategy, ext string) string {
	if s == StrategyIIIF {
		return "layer{layer}/{x},{y},{w},{h}/{tw},{th}/0/default." + ext
	}
	return "{node}_{layer}." + ext
}

func writeImage(enc Encoder, path string, img image.Image) error {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return nil
}
