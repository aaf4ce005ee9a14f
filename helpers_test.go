package webrtimaker

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// memImage keeps every layer in memory and counts lifecycle calls.
type memImage struct {
	layers   []*image.NRGBA
	clip     image.Rectangle
	loaded   bool
	loads    int
	releases int
	loadErr  error
}

func newMemImage(w, h, numLayers int) *memImage {
	m := &memImage{clip: image.Rect(0, 0, w, h)}
	for l := range numLayers {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := range h {
			for x := range w {
				img.SetNRGBA(x, y, color.NRGBA{
					R: uint8(x),
					G: uint8(y),
					B: uint8(40 * l),
					A: 255,
				})
			}
		}
		m.layers = append(m.layers, img)
	}
	return m
}

func (m *memImage) Width() int               { return m.clip.Dx() }
func (m *memImage) Height() int              { return m.clip.Dy() }
func (m *memImage) Orientation() Orientation { return Rotate0 }
func (m *memImage) NumLayers() int           { return len(m.layers) }

func (m *memImage) LoadData() error {
	m.loads++
	if m.loadErr != nil {
		return m.loadErr
	}
	m.loaded = true
	return nil
}

func (m *memImage) Layer(index int) (*image.NRGBA, error) {
	if index < 0 || index >= len(m.layers) {
		return nil, fmt.Errorf("%w: %d", ErrLayerIndex, index)
	}
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	return m.layers[index].SubImage(m.clip).(*image.NRGBA), nil
}

func (m *memImage) ReleaseMemory() {
	m.releases++
	m.loaded = false
}

func (m *memImage) SetClipRect(r image.Rectangle) error {
	if r.Empty() || !r.In(m.layers[0].Bounds()) {
		return ErrClipRect
	}
	m.clip = r
	return nil
}

func (m *memImage) LayerInfo() LayerInfo {
	if len(m.layers) == 1 {
		return LayerInfo{Type: "IMAGE", Coefficients: 3}
	}
	return LayerInfo{
		Type:         "LRGB_PTM",
		Coefficients: 6,
		Scale:        []float64{1.5, 1, 1, 1, 1, 0.25},
		Bias:         []float64{0, 1, 2, 3, 4, 5},
	}
}

var errBroken = errors.New("broken source")

// layerImage decodes one layer per LoadLayer call.
type layerImage struct {
	*memImage
	layerLoads int
}

func (m *layerImage) LoadLayer(index int) error {
	m.layerLoads++
	return m.LoadData()
}

// sizedImage reports a fixed decode peak.
type sizedImage struct {
	*memImage
	peak int64
}

func (m *sizedImage) LoadBytes() int64 { return m.peak }
