package webrtimaker

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/setanarut/webrtimaker/utils"
)

// ThumbnailSize is the longest side of thumbnail.<ext>.
const ThumbnailSize = 256

// Splitter turns a MultiLayerImage into a tile pyramid on disk.
type Splitter struct {
	src     MultiLayerImage
	opt     Options
	pyramid Pyramid
	enc     Encoder
	done    bool
}

// NewSplitter validates opt, applies the clip rectangle and plans the
// pyramid. Nothing is decoded or written yet.
func NewSplitter(src MultiLayerImage, opt Options) (*Splitter, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidSource)
	}
	if !opt.Clip.Empty() {
		if err := src.SetClipRect(opt.Clip); err != nil {
			return nil, err
		}
	}
	if src.NumLayers() < 1 {
		return nil, fmt.Errorf("%w: %d layers", ErrInvalidSource, src.NumLayers())
	}
	p, err := PlanPyramid(src.Width(), src.Height(), opt.TileSize, opt.Strategy)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(opt.Format, opt.Quality)
	if err != nil {
		return nil, err
	}
	s := &Splitter{src: src, opt: opt, pyramid: p, enc: enc}
	if p.TileSize != opt.TileSize {
		s.logf("%v ignores tile size %d, using %d", opt.Strategy, opt.TileSize, p.TileSize)
	}
	return s, nil
}

func (s *Splitter) Pyramid() Pyramid {
	return s.pyramid
}

func (s *Splitter) logf(format string, args ...any) {
	if s.opt.Verbose {
		log.Printf(format, args...)
	}
}

// residency returns how many native layers are held at once and the
// decode peak the source reports.
func (s *Splitter) residency() (int, int64) {
	resident := 1
	if _, ok := s.src.(LayerLoader); !ok {
		resident = s.src.NumLayers()
	}
	var load int64
	if l, ok := s.src.(LoadSizer); ok {
		load = l.LoadBytes()
	}
	return resident, load
}

// Split writes every tile of every layer below dest, which must exist.
// Layers are processed one at a time, levels from native to coarsest.
// Sources that cannot decode a single layer are loaded once and keep all
// their layers resident until the last one is split. The first error
// aborts the run; removing partial output is left to the caller.
func (s *Splitter) Split(ctx context.Context, dest string) error {
	s.done = false
	resident, load := s.residency()
	workers, err := NewBudget(s.opt.RAMLimit).Check(s.pyramid, s.opt.workers(), resident, load)
	if err != nil {
		return err
	}
	st, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("destination %s is not a directory", dest)
	}

	start := time.Now()
	n := s.src.NumLayers()
	s.logf("%dx%d, %d layers (%d resident), %d levels, tile %d, %d encoders",
		s.pyramid.Width, s.pyramid.Height, n, resident, s.pyramid.NumLevels(), s.pyramid.TileSize, workers)
	loader, perLayer := s.src.(LayerLoader)
	var layers []*image.NRGBA
	if !perLayer {
		if layers, err = s.loadAll(); err != nil {
			return err
		}
	}
	for layer := range n {
		var native *image.NRGBA
		if perLayer {
			native, err = s.loadLayer(loader, layer)
		} else {
			native, layers[layer] = layers[layer], nil
		}
		if err == nil {
			err = s.splitLayer(ctx, dest, native, layer, n, workers)
		}
		releaseMemory()
		if err != nil {
			return err
		}
	}
	s.done = true
	s.logf("done in %.2fs", time.Since(start).Seconds())
	return nil
}

func (s *Splitter) splitLayer(ctx context.Context, dest string, native *image.NRGBA, layer, numLayers, workers int) error {
	for k := s.pyramid.NumLevels() - 1; k >= 0; k-- {
		lv := s.pyramid.Levels[k]
		img := Downsample(native, lv.ScaleFactor)
		t := time.Now()
		if err := s.writeLevel(ctx, dest, img, k, layer, workers); err != nil {
			return err
		}
		s.logf("layer %d/%d level %d: %dx%d, %d tiles (%.2fs)",
			layer+1, numLayers, k, lv.Width, lv.Height, lv.NumTiles(), time.Since(t).Seconds())
		if k == 0 && layer == 0 {
			if err := s.writePreview(dest, img); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadLayer decodes one layer and releases the source buffers right away,
// so only the returned copy stays resident.
func (s *Splitter) loadLayer(l LayerLoader, layer int) (*image.NRGBA, error) {
	if err := l.LoadLayer(layer); err != nil {
		return nil, fmt.Errorf("%w: load layer %d: %w", ErrInvalidSource, layer, err)
	}
	img, err := s.src.Layer(layer)
	s.src.ReleaseMemory()
	if err != nil {
		return nil, fmt.Errorf("layer %d: %w", layer, err)
	}
	return s.checkLayer(img, layer)
}

// loadAll decodes the whole source once and takes every layer from it.
func (s *Splitter) loadAll() ([]*image.NRGBA, error) {
	if err := s.src.LoadData(); err != nil {
		s.src.ReleaseMemory()
		return nil, fmt.Errorf("%w: load: %w", ErrInvalidSource, err)
	}
	defer s.src.ReleaseMemory()
	out := make([]*image.NRGBA, s.src.NumLayers())
	for i := range out {
		img, err := s.src.Layer(i)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if out[i], err = s.checkLayer(img, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Splitter) checkLayer(img *image.NRGBA, layer int) (*image.NRGBA, error) {
	img = toNRGBA(img)
	if b := img.Bounds(); b.Dx() != s.pyramid.Width || b.Dy() != s.pyramid.Height {
		return nil, fmt.Errorf("%w: layer %d is %dx%d, expected %dx%d",
			ErrInvalidSource, layer, b.Dx(), b.Dy(), s.pyramid.Width, s.pyramid.Height)
	}
	return img, nil
}

func (s *Splitter) writeLevel(ctx context.Context, dest string, img *image.NRGBA, k, layer, workers int) error {
	lv := s.pyramid.Levels[k]
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range s.pyramid.Tiles(k) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := lv.TileRect(t.Row, t.Col, s.pyramid.TileSize)
			path := TilePath(dest, s.pyramid, t, layer, s.enc.Extension())
			return writeImage(s.enc, path, CropTile(img, r))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// writePreview stores thumbnail.<ext> and, when requested, palette.png.
// Neither file is referenced by the descriptors.
func (s *Splitter) writePreview(dest string, coarsest *image.NRGBA) error {
	var thumb image.Image
	if t, ok := s.src.(Thumbnailer); ok {
		var err error
		if thumb, err = t.Thumbnail(ThumbnailSize); err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
	} else {
		thumb = fitInside(coarsest, ThumbnailSize)
	}
	if err := writeImage(s.enc, filepath.Join(dest, "thumbnail."+s.enc.Extension()), thumb); err != nil {
		return err
	}
	if s.opt.PaletteSize == 0 {
		return nil
	}
	palette := utils.ExtractPalette(thumb, s.opt.PaletteSize, s.opt.PaletteMethod)
	utils.SortPaletteByBrightness(palette)
	return utils.SavePalette(palette, 64, filepath.Join(dest, "palette.png"))
}

func fitInside(img *image.NRGBA, side int) image.Image {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if longest <= side {
		return img
	}
	w := max(1, b.Dx()*side/longest)
	h := max(1, b.Dy()*side/longest)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Descriptor returns the layout of the finished pyramid.
func (s *Splitter) Descriptor() (*Descriptor, error) {
	if !s.done {
		return nil, ErrNotSplit
	}
	return newDescriptor(s.pyramid, s.src, s.opt), nil
}

func (s *Splitter) SaveDescriptorJSON(dest string) error {
	d, err := s.Descriptor()
	if err != nil {
		return err
	}
	return d.SaveJSON(dest)
}

func (s *Splitter) SaveDescriptorXML(dest string) error {
	d, err := s.Descriptor()
	if err != nil {
		return err
	}
	return d.SaveXML(dest)
}
