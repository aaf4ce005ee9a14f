package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	wrm "github.com/setanarut/webrtimaker"
	"github.com/setanarut/webrtimaker/source"
	"github.com/setanarut/webrtimaker/utils"
)

type config struct {
	input         string
	quality       int
	ram           int
	tileSize      int
	geometry      string
	strategy      string
	png           bool
	workers       int
	clip          string
	palette       int
	paletteMethod string
	verbose       bool
}

func main() {
	cfg := parseFlags()
	if cfg.input == "" {
		flag.Usage()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() config {
	def := wrm.DefaultOptions()
	var cfg config
	flag.IntVar(&cfg.quality, "q", def.Quality, "quality of the saved tiles (0-100, jpg only)")
	flag.IntVar(&cfg.ram, "r", def.RAMLimit, "max RAM used for pixel data, in megabytes")
	flag.IntVar(&cfg.tileSize, "t", def.TileSize, "tile size in pixels")
	flag.StringVar(&cfg.geometry, "g", def.Geometry.String(), "geometry: PLANE or HALFDOME")
	flag.StringVar(&cfg.strategy, "m", def.Strategy.String(), "multires strategy: IMAGE_TREE or IIIF (IIIF ignores -t)")
	flag.BoolVar(&cfg.png, "p", true, "save tiles as png; -p=false saves jpg")
	flag.IntVar(&cfg.workers, "workers", def.Workers, "concurrent tile encoders")
	flag.StringVar(&cfg.clip, "clip", "", "process only the region x,y,w,h of the source")
	flag.IntVar(&cfg.palette, "palette", 0, "write palette.png with this many colors")
	flag.StringVar(&cfg.paletteMethod, "palette-method", def.PaletteMethod.String(), "palette method: dominantcolor or kmeans")
	flag.BoolVar(&cfg.verbose, "v", false, "log progress")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: webrtimaker [flags] <input>\n\n")
		fmt.Fprintf(os.Stderr, "Builds a tile pyramid for the web RTI viewer from an LRGB PTM or a raster image\n")
		fmt.Fprintf(os.Stderr, "(jpg, png, tif, bmp, webp). Tiles go to <input dir>/<input name>/.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 0 {
		cfg.input = flag.Arg(0)
	}
	return cfg
}

func (c config) options() (wrm.Options, error) {
	opt := wrm.DefaultOptions()
	var err error
	if opt.Geometry, err = wrm.ParseGeometry(c.geometry); err != nil {
		return opt, err
	}
	if opt.Strategy, err = wrm.ParseStrategy(c.strategy); err != nil {
		return opt, err
	}
	if opt.PaletteMethod, err = utils.ParsePaletteMethod(c.paletteMethod); err != nil {
		return opt, err
	}
	if c.clip != "" {
		if opt.Clip, err = parseClip(c.clip); err != nil {
			return opt, err
		}
	}
	opt.Format = wrm.FormatJPG
	if c.png {
		opt.Format = wrm.FormatPNG
	}
	opt.Quality = c.quality
	opt.RAMLimit = c.ram
	opt.TileSize = c.tileSize
	opt.Workers = c.workers
	opt.PaletteSize = c.palette
	opt.Verbose = c.verbose
	return opt, opt.Validate()
}

func parseClip(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("%w: clip %q is not x,y,w,h", wrm.ErrConfig, s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("%w: clip %q: %w", wrm.ErrConfig, s, err)
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

func run(ctx context.Context, cfg config) error {
	opt, err := cfg.options()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	img, err := source.Open(cfg.input)
	if err != nil {
		return err
	}
	splitter, err := wrm.NewSplitter(img, opt)
	if err != nil {
		return err
	}

	base := filepath.Base(cfg.input)
	dest := filepath.Join(filepath.Dir(cfg.input), strings.TrimSuffix(base, filepath.Ext(base)))
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	if err := splitter.Split(ctx, dest); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			log.Printf("cleanup %s: %v", dest, rmErr)
		}
		if errors.Is(err, wrm.ErrMemoryBudget) {
			return fmt.Errorf("%w (raise -r or reduce the image with -clip)", err)
		}
		return err
	}

	// Tiles stay valid even if a descriptor cannot be written.
	var errs []error
	if err := splitter.SaveDescriptorJSON(dest); err != nil {
		errs = append(errs, fmt.Errorf("json descriptor: %w", err))
	}
	if opt.Strategy == wrm.StrategyImageTree && opt.Geometry == wrm.GeometryPlane {
		if err := splitter.SaveDescriptorXML(dest); err != nil {
			errs = append(errs, fmt.Errorf("xml descriptor: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if opt.Verbose {
		log.Printf("wrote %s", dest)
	}
	return nil
}
