package webrtimaker

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	JSONDescriptorName = "info.json"
	XMLDescriptorName  = "info.xml"
)

// Descriptor is the read-only layout of a finished pyramid.
type Descriptor struct {
	Pyramid
	NumLayers   int
	Info        LayerInfo
	Orientation Orientation
	Geometry    Geometry
	Format      Format
	Quality     int
	TilePattern string
}

func newDescriptor(p Pyramid, src MultiLayerImage, opt Options) *Descriptor {
	info := src.LayerInfo()
	info.Scale = append([]float64{}, info.Scale...)
	info.Bias = append([]float64{}, info.Bias...)
	p.Levels = append([]Level{}, p.Levels...)
	return &Descriptor{
		Pyramid:     p,
		NumLayers:   src.NumLayers(),
		Info:        info,
		Orientation: src.Orientation(),
		Geometry:    opt.Geometry,
		Format:      opt.Format,
		Quality:     opt.Quality,
		TilePattern: TilePattern(p.Strategy, opt.Format.String()),
	}
}

type jsonSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

type jsonLevel struct {
	Level       int `json:"level"`
	Width       int `json:"width"`
	Height      int `json:"height"`
	Cols        int `json:"cols"`
	Rows        int `json:"rows"`
	ScaleFactor int `json:"scaleFactor"`
}

type jsonPTM struct {
	Type          string    `json:"type"`
	NumLayers     int       `json:"numLayers"`
	MaxResolution jsonSize  `json:"maxResolution"`
	ContentSize   jsonSize  `json:"contentSize"`
	Scale         []float64 `json:"scale"`
	Bias          []float64 `json:"bias"`
	Orientation   int       `json:"orientation"`
	ImageFormat   string    `json:"imageFormat"`
}

type jsonGeometry struct {
	Type string `json:"type"`
}

type jsonMultires struct {
	Type        string      `json:"type"`
	TileSize    jsonSize    `json:"tileSize"`
	NLevels     int         `json:"nLevels"`
	Quality     int         `json:"quality"`
	TilePattern string      `json:"tilePattern"`
	Levels      []jsonLevel `json:"levels"`
}

type jsonDescriptor struct {
	PTM              jsonPTM      `json:"PTM"`
	Geometry         jsonGeometry `json:"Geometry"`
	MultiresStrategy jsonMultires `json:"MultiresStrategy"`
}

func (d *Descriptor) jsonDoc() jsonDescriptor {
	levels := make([]jsonLevel, len(d.Levels))
	for i, l := range d.Levels {
		levels[i] = jsonLevel{
			Level:       l.Index,
			Width:       l.Width,
			Height:      l.Height,
			Cols:        l.Cols,
			Rows:        l.Rows,
			ScaleFactor: l.ScaleFactor,
		}
	}
	maxW, maxH := d.MaxResolution()
	return jsonDescriptor{
		PTM: jsonPTM{
			Type:          d.Info.Type,
			NumLayers:     d.NumLayers,
			MaxResolution: jsonSize{W: maxW, H: maxH},
			ContentSize:   jsonSize{W: d.Width, H: d.Height},
			Scale:         d.Info.Scale,
			Bias:          d.Info.Bias,
			Orientation:   int(d.Orientation),
			ImageFormat:   d.Format.String(),
		},
		Geometry: jsonGeometry{Type: d.Geometry.String()},
		MultiresStrategy: jsonMultires{
			Type:        d.Strategy.String(),
			TileSize:    jsonSize{W: d.TileSize, H: d.TileSize},
			NLevels:     len(d.Levels),
			Quality:     d.Quality,
			TilePattern: d.TilePattern,
			Levels:      levels,
		},
	}
}

// MarshalJSON renders the viewer configuration. The output only depends
// on the pyramid geometry and the options, so reruns are byte-identical.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(d.jsonDoc(), "", "  ")
}

// SaveJSON writes info.json, plus one IIIF info.json per layer for the
// IIIF strategy.
func (d *Descriptor) SaveJSON(dest string) error {
	data, err := d.MarshalJSON()
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dest, JSONDescriptorName), append(data, '\n')); err != nil {
		return err
	}
	if d.Strategy != StrategyIIIF {
		return nil
	}
	for layer := range d.NumLayers {
		data, err := json.MarshalIndent(d.iiifInfo(layer), "", "  ")
		if err != nil {
			return err
		}
		dir := filepath.Join(dest, IIIFLayerDir(layer))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, JSONDescriptorName), append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

type iiifSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type iiifTile struct {
	ScaleFactors []int `json:"scaleFactors"`
	Width        int   `json:"width"`
	Height       int   `json:"height"`
}

type iiifProfile struct {
	Formats   []string `json:"formats"`
	Qualities []string `json:"qualities"`
}

type iiifImage struct {
	Context  string     `json:"@context"`
	ID       string     `json:"@id"`
	Protocol string     `json:"protocol"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Profile  []any      `json:"profile"`
	Sizes    []iiifSize `json:"sizes"`
	Tiles    []iiifTile `json:"tiles"`
}

func (d *Descriptor) iiifInfo(layer int) iiifImage {
	sizes := make([]iiifSize, len(d.Levels))
	for i, l := range d.Levels {
		sizes[i] = iiifSize{Width: l.Width, Height: l.Height}
	}
	return iiifImage{
		Context:  "http://iiif.io/api/image/2/context.json",
		ID:       IIIFLayerDir(layer),
		Protocol: "http://iiif.io/api/image",
		Width:    d.Width,
		Height:   d.Height,
		Profile: []any{
			"http://iiif.io/api/image/2/level0.json",
			iiifProfile{Formats: []string{d.Format.String()}, Qualities: []string{"default"}},
		},
		Sizes: sizes,
		Tiles: []iiifTile{{ScaleFactors: d.ScaleFactors(), Width: d.TileSize, Height: d.TileSize}},
	}
}

type xmlSize struct {
	Width        int `xml:"width,attr"`
	Height       int `xml:"height,attr"`
	Coefficients int `xml:"coefficients,attr"`
	Layers       int `xml:"layers,attr"`
}

type xmlLevel struct {
	Index  int `xml:"index,attr"`
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
	Cols   int `xml:"cols,attr"`
	Rows   int `xml:"rows,attr"`
}

type xmlMultiRes struct {
	Format   int        `xml:"format,attr"`
	Levels   int        `xml:"levels,attr"`
	TileSize int        `xml:"tileSize,attr"`
	Tree     string     `xml:"Tree"`
	Level    []xmlLevel `xml:"Level"`
}

type xmlContent struct {
	XMLName     xml.Name    `xml:"Content"`
	Type        string      `xml:"type,attr"`
	Size        xmlSize     `xml:"Size"`
	Scale       string      `xml:"Scale"`
	Bias        string      `xml:"Bias"`
	Orientation int         `xml:"Orientation"`
	MultiRes    xmlMultiRes `xml:"MultiRes"`
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// treeText is the three line header of the legacy image tree:
// "<nodes> <levels>", "<tile size>", "<max width> <max height>".
func (d *Descriptor) treeText() string {
	maxW, maxH := d.MaxResolution()
	return fmt.Sprintf("\n%d %d\n%d\n%d %d\n", d.NodeCount(), len(d.Levels), d.TileSize, maxW, maxH)
}

// XML renders info.xml. The legacy schema can only express IMAGE_TREE on
// a PLANE.
func (d *Descriptor) XML() ([]byte, error) {
	if d.Strategy != StrategyImageTree || d.Geometry != GeometryPlane {
		return nil, fmt.Errorf("%w: XML descriptor needs IMAGE_TREE and PLANE, got %v and %v",
			ErrConfig, d.Strategy, d.Geometry)
	}
	format := 0
	if d.Format == FormatPNG {
		format = 1
	}
	levels := make([]xmlLevel, len(d.Levels))
	for i, l := range d.Levels {
		levels[i] = xmlLevel{Index: l.Index, Width: l.Width, Height: l.Height, Cols: l.Cols, Rows: l.Rows}
	}
	doc := xmlContent{
		Type: d.Info.Type,
		Size: xmlSize{
			Width:        d.Width,
			Height:       d.Height,
			Coefficients: d.Info.Coefficients,
			Layers:       d.NumLayers,
		},
		Scale:       joinFloats(d.Info.Scale),
		Bias:        joinFloats(d.Info.Bias),
		Orientation: int(d.Orientation),
		MultiRes: xmlMultiRes{
			Format:   format,
			Levels:   len(d.Levels),
			TileSize: d.TileSize,
			Tree:     d.treeText(),
			Level:    levels,
		},
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

func (d *Descriptor) SaveXML(dest string) error {
	data, err := d.XML()
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(dest, XMLDescriptorName), append(data, '\n'))
}

// writeFile reports short writes and close errors.
func writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := f.Write(data)
	if err == nil && n < len(data) {
		err = fmt.Errorf("short write to %s: %d of %d bytes", path, n, len(data))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
