package utils

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "kmeans":
		return PaletteMethodKMeans, nil
	case "dominantcolor", "":
		return PaletteMethodDominantColor, nil
	}
	return 0, fmt.Errorf("unknown palette method %q (supported: dominantcolor, kmeans)", s)
}

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

// candidate is a palette color weighted by the share of pixels it stands for.
type candidate struct {
	col    colorful.Color
	weight float64
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// SortPaletteByBrightness orders colors from darkest to brightest.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortFunc(palette, func(a, b colorful.Color) int {
		la, lb := luminance(a), luminance(b)
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	})
}

// ExtractPalette returns up to k representative colors of img. The kmeans
// method falls back to dominantcolor when clustering yields nothing.
func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	if method == PaletteMethodKMeans {
		if p := ExtractKMeansPalette(img, k); len(p) != 0 {
			return p
		}
		log.Println("palette: kmeans returned an empty palette, falling back to dominantcolor")
	}
	return ExtractDominantPalette(img, k)
}

func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	found := dominantcolor.FindWeight(img, max(24, k*8))
	if len(found) == 0 {
		// Keep a neutral gray so the swatch is never empty.
		found = []dominantcolor.Color{{RGBA: color.RGBA{R: 128, G: 128, B: 128, A: 255}, Weight: 1}}
	}
	cands := make([]candidate, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		cands = append(cands, candidate{col: col, weight: c.Weight})
	}
	return selectDiverse(cands, k)
}

func ExtractKMeansPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	b := img.Bounds()
	if b.Empty() {
		return nil
	}

	// Subsample so that clustering stays cheap on large previews.
	const maxSamples = 12000
	step := 1
	if n := b.Dx() * b.Dy(); n > maxSamples {
		step = int(math.Sqrt(float64(n)/maxSamples)) + 1
	}
	var obs clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			obs = append(obs, clusters.Coordinates{
				float64(r) / 0xffff, float64(g) / 0xffff, float64(bl) / 0xffff,
			})
		}
	}
	if len(obs) == 0 {
		return nil
	}

	cc, err := kmeans.New().Partition(obs, min(max(k*4, k+2), len(obs)))
	if err != nil {
		return nil
	}
	cands := make([]candidate, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}
		cands = append(cands, candidate{col: col, weight: float64(len(c.Observations))})
	}
	return selectDiverse(cands, k)
}

// selectDiverse picks k colors greedily: the heaviest candidate first, then
// the one farthest in Lab from everything picked so far, damped by weight.
func selectDiverse(cands []candidate, k int) []colorful.Color {
	k = min(k, len(cands))
	if k <= 0 {
		return nil
	}
	maxW := 0.0
	for i := range cands {
		cands[i].col = cands[i].col.Clamped()
		cands[i].weight = max(cands[i].weight, 1e-6)
		maxW = max(maxW, cands[i].weight)
	}

	picked := make([]bool, len(cands))
	out := make([]colorful.Color, 0, k)
	first := 0
	for i := range cands {
		if cands[i].weight > cands[first].weight {
			first = i
		}
	}
	picked[first] = true
	out = append(out, cands[first].col)

	for len(out) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if picked[i] {
				continue
			}
			nearest := math.MaxFloat64
			for _, p := range out {
				nearest = min(nearest, c.col.DistanceLab(p))
			}
			score := nearest * (0.55 + 0.45*math.Sqrt(c.weight/maxW))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		picked[best] = true
		out = append(out, cands[best].col)
	}
	return out
}

// SavePalette writes one swatchSize square per color, left to right.
func SavePalette(palette []colorful.Color, swatchSize int, filename string) error {
	if len(palette) == 0 {
		return fmt.Errorf("empty palette")
	}
	if swatchSize <= 0 {
		swatchSize = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, swatchSize*len(palette), swatchSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		fill := color.RGBA{R: r, G: g, B: b, A: 255}
		for y := range swatchSize {
			for x := i * swatchSize; x < (i+1)*swatchSize; x++ {
				img.SetRGBA(x, y, fill)
			}
		}
	}
	return SaveImage(img, filename)
}
