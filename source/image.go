package source

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	wrm "github.com/setanarut/webrtimaker"
	"github.com/setanarut/webrtimaker/utils"
)

// Image is a conventional single-layer raster. LoadData turns the decoded
// pixels into the one NRGBA buffer that Layer hands out.
type Image struct {
	filename    string
	w, h        int
	model       color.Model
	orientation wrm.Orientation
	clip        image.Rectangle
	layer       *image.NRGBA
}

// OpenImage reads the header of a raster file, plus the EXIF orientation
// of a JPEG. Pixels are decoded by LoadData.
func OpenImage(filename string) (*Image, error) {
	cfg, format, err := utils.ReadImageConfig(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", wrm.ErrInvalidSource, filename, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s is %dx%d", wrm.ErrInvalidSource, filename, cfg.Width, cfg.Height)
	}
	m := &Image{
		filename: filename,
		w:        cfg.Width,
		h:        cfg.Height,
		model:    cfg.ColorModel,
		clip:     image.Rect(0, 0, cfg.Width, cfg.Height),
	}
	if format == "jpeg" {
		if v, err := jpegOrientation(filename); err == nil {
			m.orientation = exifRotation[v]
		}
	}
	return m, nil
}

func (m *Image) Width() int { return m.clip.Dx() }

func (m *Image) Height() int { return m.clip.Dy() }

func (m *Image) Orientation() wrm.Orientation { return m.orientation }

func (m *Image) NumLayers() int { return 1 }

func (m *Image) SetClipRect(r image.Rectangle) error {
	if r.Empty() || !r.In(image.Rect(0, 0, m.w, m.h)) {
		return fmt.Errorf("%w: %v not within %dx%d", wrm.ErrClipRect, r, m.w, m.h)
	}
	m.clip = r
	m.layer = nil
	return nil
}

// decodedBytesPerPixel bounds the buffer image.Decode allocates for a
// stream with color model cm.
func decodedBytesPerPixel(cm color.Model) int64 {
	if _, ok := cm.(color.Palette); ok {
		return 1
	}
	switch cm {
	case color.GrayModel, color.AlphaModel:
		return 1
	case color.Gray16Model, color.Alpha16Model:
		return 2
	case color.YCbCrModel:
		return 3
	case color.RGBAModel, color.NRGBAModel, color.CMYKModel, color.NYCbCrAModel:
		return 4
	}
	return 8
}

func (m *Image) unclipped() bool {
	return m.clip == image.Rect(0, 0, m.w, m.h)
}

// LoadBytes is the peak of LoadData: the decoded buffer plus the clipped
// NRGBA copy, or the decoded buffer alone when it is converted in place.
func (m *Image) LoadBytes() int64 {
	full := int64(m.w) * int64(m.h)
	if m.unclipped() && (m.model == color.RGBAModel || m.model == color.NRGBAModel) {
		return full * 4
	}
	return full*decodedBytesPerPixel(m.model) + int64(m.clip.Dx())*int64(m.clip.Dy())*4
}

func (m *Image) LoadData() error {
	if m.layer != nil {
		return nil
	}
	img, _, err := utils.ReadImage(m.filename)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != m.w || b.Dy() != m.h {
		return fmt.Errorf("%w: decoded %dx%d, header says %dx%d", wrm.ErrInvalidSource, b.Dx(), b.Dy(), m.w, m.h)
	}
	if m.unclipped() {
		switch img := img.(type) {
		case *image.NRGBA:
			m.layer = img
			return nil
		case *image.RGBA:
			m.layer = unpremultiply(img)
			return nil
		}
	}
	clip := m.clip.Add(b.Min)
	out := image.NewNRGBA(image.Rect(0, 0, clip.Dx(), clip.Dy()))
	draw.Draw(out, out.Bounds(), img, clip.Min, draw.Src)
	m.layer = out
	return nil
}

// unpremultiply converts img to NRGBA in place. The result shares the
// pixels of img.
func unpremultiply(img *image.RGBA) *image.NRGBA {
	pix := img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		switch a := uint32(pix[i+3]) * 0x101; a {
		case 0xffff:
		case 0:
			pix[i], pix[i+1], pix[i+2] = 0, 0, 0
		default:
			for j := i; j < i+3; j++ {
				pix[j] = uint8(uint32(pix[j]) * 0x101 * 0xffff / a >> 8)
			}
		}
	}
	return &image.NRGBA{Pix: pix, Stride: img.Stride, Rect: img.Rect}
}

// Layer returns the clipped pixels. The buffer belongs to the source until
// ReleaseMemory.
func (m *Image) Layer(index int) (*image.NRGBA, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: %d of 1", wrm.ErrLayerIndex, index)
	}
	if m.layer == nil {
		return nil, wrm.ErrNotLoaded
	}
	return m.layer, nil
}

func (m *Image) ReleaseMemory() {
	m.layer = nil
}

func (m *Image) LayerInfo() wrm.LayerInfo {
	return wrm.LayerInfo{Type: "IMAGE", Coefficients: 3}
}
