package source

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"

	wrm "github.com/setanarut/webrtimaker"
)

const (
	ptmFormatLRGB = "PTM_FORMAT_LRGB"
	ptmCoeffs     = 6
	ptmLayers     = 3
)

// PTM is a Polynomial Texture Map in the LRGB layout: six luminance
// coefficients per pixel followed by an RGB chroma plane, rows stored
// bottom to top.
//
// Layer 0 holds coefficients a0..a2, layer 1 a3..a5 and layer 2 the RGB
// plane, matching the three textures the viewer samples.
type PTM struct {
	filename string
	w, h     int
	scale    [ptmCoeffs]float64
	bias     [ptmCoeffs]float64
	data     int64 // offset of the coefficient block
	clip     image.Rectangle
	layers   [ptmLayers]*image.NRGBA

	// Light is the (lu, lv) direction used by Thumbnail. The zero value
	// lights the surface head-on.
	Light [2]float64
}

// OpenPTM parses the text header and checks that the file holds the whole
// pixel payload.
func OpenPTM(filename string) (*PTM, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wrm.ErrInvalidSource, err)
	}
	defer f.Close()

	p := &PTM{filename: filename}
	if err := p.readHeader(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", wrm.ErrInvalidSource, filename, err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if need := p.data + int64(p.w)*int64(p.h)*(ptmCoeffs+3); st.Size() < need {
		return nil, fmt.Errorf("%w: %s truncated: %d of %d bytes", wrm.ErrInvalidSource, filename, st.Size(), need)
	}
	p.clip = image.Rect(0, 0, p.w, p.h)
	return p, nil
}

func (p *PTM) readHeader(r *bufio.Reader) error {
	var offset int64
	line := func() (string, error) {
		s, err := r.ReadString('\n')
		offset += int64(len(s))
		if err != nil {
			return "", fmt.Errorf("header: %w", err)
		}
		return strings.TrimSpace(s), nil
	}

	version, err := line()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(version, "PTM_1.") {
		return fmt.Errorf("not a PTM file (%q)", version)
	}
	format, err := line()
	if err != nil {
		return err
	}
	if format != ptmFormatLRGB {
		return fmt.Errorf("%w: %s, only %s is read", wrm.ErrUnsupportedFormat, format, ptmFormatLRGB)
	}

	// width height, six scales and six biases, spread over any number of lines
	var tokens []string
	for len(tokens) < 2+2*ptmCoeffs {
		s, err := line()
		if err != nil {
			return err
		}
		tokens = append(tokens, strings.Fields(s)...)
	}
	if len(tokens) != 2+2*ptmCoeffs {
		return fmt.Errorf("header has %d values, expected %d", len(tokens), 2+2*ptmCoeffs)
	}
	if p.w, err = strconv.Atoi(tokens[0]); err != nil {
		return err
	}
	if p.h, err = strconv.Atoi(tokens[1]); err != nil {
		return err
	}
	if p.w <= 0 || p.h <= 0 {
		return fmt.Errorf("dimensions %dx%d", p.w, p.h)
	}
	for i := range ptmCoeffs {
		if p.scale[i], err = strconv.ParseFloat(tokens[2+i], 64); err != nil {
			return err
		}
		if p.bias[i], err = strconv.ParseFloat(tokens[2+ptmCoeffs+i], 64); err != nil {
			return err
		}
	}
	p.data = offset
	return nil
}

func (p *PTM) Width() int { return p.clip.Dx() }

func (p *PTM) Height() int { return p.clip.Dy() }

func (p *PTM) Orientation() wrm.Orientation { return wrm.Rotate0 }

func (p *PTM) NumLayers() int { return ptmLayers }

func (p *PTM) SetClipRect(r image.Rectangle) error {
	if r.Empty() || !r.In(image.Rect(0, 0, p.w, p.h)) {
		return fmt.Errorf("%w: %v not within %dx%d", wrm.ErrClipRect, r, p.w, p.h)
	}
	p.clip = r
	p.ReleaseMemory()
	return nil
}

func (p *PTM) LayerInfo() wrm.LayerInfo {
	return wrm.LayerInfo{
		Type:         "LRGB_PTM",
		Coefficients: ptmCoeffs,
		Scale:        p.scale[:],
		Bias:         p.bias[:],
	}
}

func (p *PTM) LoadData() error {
	for i := range ptmLayers {
		if err := p.LoadLayer(i); err != nil {
			return err
		}
	}
	return nil
}

// LoadLayer decodes a single layer, streaming the file one row at a time.
func (p *PTM) LoadLayer(index int) error {
	if index < 0 || index >= ptmLayers {
		return fmt.Errorf("%w: %d of %d", wrm.ErrLayerIndex, index, ptmLayers)
	}
	if p.layers[index] != nil {
		return nil
	}
	cw := p.clip.Dx()
	out := image.NewNRGBA(image.Rect(0, 0, cw, p.clip.Dy()))
	stride, first := ptmCoeffs, index*3
	if index == 2 {
		stride, first = 3, 0
	}
	err := p.scanBlock(index == 2, func(y int, row []byte) {
		dst := out.Pix[(y-p.clip.Min.Y)*out.Stride:]
		for x := range cw {
			src := row[(p.clip.Min.X+x)*stride+first:]
			d := dst[x*4:]
			d[0], d[1], d[2], d[3] = src[0], src[1], src[2], 0xff
		}
	})
	if err != nil {
		return err
	}
	p.layers[index] = out
	return nil
}

// scanBlock calls fn for every stored row that falls inside the clip, with
// y in top-down image coordinates.
func (p *PTM) scanBlock(rgb bool, fn func(y int, row []byte)) error {
	f, err := os.Open(p.filename)
	if err != nil {
		return err
	}
	defer f.Close()

	stride := ptmCoeffs
	offset := p.data
	if rgb {
		stride = 3
		offset += int64(p.w) * int64(p.h) * ptmCoeffs
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReaderSize(f, 1<<20)
	row := make([]byte, p.w*stride)
	for stored := range p.h {
		y := p.h - 1 - stored
		if y < p.clip.Min.Y || y >= p.clip.Max.Y {
			if _, err := r.Discard(len(row)); err != nil {
				return fmt.Errorf("%w: row %d: %w", wrm.ErrInvalidSource, stored, err)
			}
			continue
		}
		if _, err := io.ReadFull(r, row); err != nil {
			return fmt.Errorf("%w: row %d: %w", wrm.ErrInvalidSource, stored, err)
		}
		fn(y, row)
	}
	return nil
}

func (p *PTM) Layer(index int) (*image.NRGBA, error) {
	if index < 0 || index >= ptmLayers {
		return nil, fmt.Errorf("%w: %d of %d", wrm.ErrLayerIndex, index, ptmLayers)
	}
	if p.layers[index] == nil {
		return nil, wrm.ErrNotLoaded
	}
	return p.layers[index], nil
}

func (p *PTM) ReleaseMemory() {
	p.layers = [ptmLayers]*image.NRGBA{}
}

// Thumbnail relights a point-sampled copy of the clipped surface under
// p.Light. Luminance is the PTM biquadratic
//
//	L = a0*lu² + a1*lv² + a2*lu*lv + a3*lu + a4*lv + a5
//
// evaluated for all samples as one matrix-vector product.
func (p *PTM) Thumbnail(maxSide int) (image.Image, error) {
	cw, ch := p.clip.Dx(), p.clip.Dy()
	step := max(1, (max(cw, ch)+maxSide-1)/maxSide)
	tw, th := (cw+step-1)/step, (ch+step-1)/step

	sampled := func(y int) (int, bool) {
		dy := y - p.clip.Min.Y
		return dy / step, dy%step == 0
	}
	coeffs := make([]float64, tw*th*ptmCoeffs)
	err := p.scanBlock(false, func(y int, row []byte) {
		ty, ok := sampled(y)
		if !ok {
			return
		}
		for tx := range tw {
			src := row[(p.clip.Min.X+tx*step)*ptmCoeffs:]
			dst := coeffs[(ty*tw+tx)*ptmCoeffs:]
			for i := range ptmCoeffs {
				dst[i] = (float64(src[i]) - p.bias[i]) * p.scale[i]
			}
		}
	})
	if err != nil {
		return nil, err
	}
	chroma := make([]colorful.Color, tw*th)
	err = p.scanBlock(true, func(y int, row []byte) {
		ty, ok := sampled(y)
		if !ok {
			return
		}
		for tx := range tw {
			src := row[(p.clip.Min.X+tx*step)*3:]
			chroma[ty*tw+tx] = colorful.Color{
				R: float64(src[0]) / 255,
				G: float64(src[1]) / 255,
				B: float64(src[2]) / 255,
			}
		}
	})
	if err != nil {
		return nil, err
	}

	lu, lv := p.Light[0], p.Light[1]
	basis := mat.NewVecDense(ptmCoeffs, []float64{lu * lu, lv * lv, lu * lv, lu, lv, 1})
	var lum mat.VecDense
	lum.MulVec(mat.NewDense(tw*th, ptmCoeffs, coeffs), basis)

	out := image.NewNRGBA(image.Rect(0, 0, tw, th))
	for i, c := range chroma {
		l := max(0, lum.AtVec(i)/255)
		r, g, b := colorful.Color{R: c.R * l, G: c.G * l, B: c.B * l}.Clamped().RGB255()
		out.SetNRGBA(i%tw, i/tw, color.NRGBA{R: r, G: g, B: b, A: 0xff})
	}
	return out, nil
}
