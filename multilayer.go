package webrtimaker

import (
	"errors"
	"image"
)

var (
	ErrConfig            = errors.New("invalid configuration")
	ErrInvalidSource     = errors.New("invalid source image")
	ErrMemoryBudget      = errors.New("memory budget exceeded")
	ErrNotLoaded         = errors.New("layer data not loaded")
	ErrLayerIndex        = errors.New("layer index out of range")
	ErrClipRect          = errors.New("clip rectangle outside image bounds")
	ErrNotSplit          = errors.New("pyramid not split yet")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Orientation is the number of clockwise quarter turns the viewer applies.
type Orientation uint8

const (
	Rotate0 Orientation = iota
	Rotate90
	Rotate180
	Rotate270
)

// LayerInfo describes how the viewer interprets the layer pixels.
// Raster sources report a single RGB layer with no coefficients.
type LayerInfo struct {
	Type         string
	Coefficients int
	Scale        []float64
	Bias         []float64
}

// MultiLayerImage is a source made of one or more equally sized layers.
//
// Layer is only valid after LoadData succeeded and until ReleaseMemory is
// called. Width and Height describe the clipped extent when a clip
// rectangle is set and stay valid after ReleaseMemory.
type MultiLayerImage interface {
	Width() int
	Height() int
	Orientation() Orientation
	NumLayers() int
	LoadData() error
	Layer(index int) (*image.NRGBA, error)
	ReleaseMemory()
	SetClipRect(r image.Rectangle) error
	LayerInfo() LayerInfo
}

// LayerLoader is implemented by sources that can decode a single layer.
// LoadLayer(i) makes Layer(i) valid without decoding the other layers.
type LayerLoader interface {
	LoadLayer(index int) error
}

// Thumbnailer is implemented by sources whose layers are not directly
// viewable, like PTM coefficient planes.
type Thumbnailer interface {
	Thumbnail(maxSide int) (image.Image, error)
}

// LoadSizer is implemented by sources that know their peak resident size
// while decoding, counting the layers they hand out. For a LayerLoader it
// covers one LoadLayer call, otherwise a full LoadData.
type LoadSizer interface {
	LoadBytes() int64
}
