package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	wrm "github.com/setanarut/webrtimaker"
	"github.com/setanarut/webrtimaker/utils"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "test.png")
	if err := utils.SaveImage(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImageLifecycle(t *testing.T) {
	m, err := OpenImage(writePNG(t, 40, 30))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if m.Width() != 40 || m.Height() != 30 || m.NumLayers() != 1 {
		t.Errorf("Expected 40x30 with 1 layer, got %dx%d with %d", m.Width(), m.Height(), m.NumLayers())
	}
	if info := m.LayerInfo(); info.Type != "IMAGE" || len(info.Scale) != 0 {
		t.Errorf("Unexpected layer info %+v", info)
	}
	if _, err := m.Layer(0); !errors.Is(err, wrm.ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
	if err := m.LoadData(); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	img, err := m.Layer(0)
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if got := img.NRGBAAt(12, 9); got != (color.NRGBA{R: 12, G: 9, B: 7, A: 255}) {
		t.Errorf("Unexpected pixel %v", got)
	}
	if _, err := m.Layer(1); !errors.Is(err, wrm.ErrLayerIndex) {
		t.Errorf("Expected ErrLayerIndex, got %v", err)
	}
	m.ReleaseMemory()
	if _, err := m.Layer(0); !errors.Is(err, wrm.ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded after ReleaseMemory, got %v", err)
	}
	if m.Width() != 40 {
		t.Errorf("Expected dimensions to survive ReleaseMemory, got width %d", m.Width())
	}
}

func TestImageClip(t *testing.T) {
	m, err := OpenImage(writePNG(t, 40, 30))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if err := m.SetClipRect(image.Rect(30, 20, 50, 40)); !errors.Is(err, wrm.ErrClipRect) {
		t.Errorf("Expected ErrClipRect, got %v", err)
	}
	if err := m.SetClipRect(image.Rect(10, 5, 30, 25)); err != nil {
		t.Fatalf("SetClipRect: %v", err)
	}
	if m.Width() != 20 || m.Height() != 20 {
		t.Errorf("Expected 20x20, got %dx%d", m.Width(), m.Height())
	}
	if err := m.LoadData(); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	img, err := m.Layer(0)
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if b := img.Bounds(); b != image.Rect(0, 0, 20, 20) {
		t.Errorf("Expected bounds at the origin, got %v", b)
	}
	if got := img.NRGBAAt(0, 0); got.R != 10 || got.G != 5 {
		t.Errorf("Expected the clip origin (10,5), got %v", got)
	}
}

func TestOpenDispatch(t *testing.T) {
	if m, err := Open(writePNG(t, 4, 4)); err != nil {
		t.Errorf("Open png: %v", err)
	} else if _, ok := m.(*Image); !ok {
		t.Errorf("Expected *Image, got %T", m)
	}
	if m, err := Open(writePTM(t, testHeader, 0)); err != nil {
		t.Errorf("Open ptm: %v", err)
	} else if _, ok := m.(*PTM); !ok {
		t.Errorf("Expected *PTM, got %T", m)
	}

	dir := t.TempDir()
	for _, name := range []string{"a.rti", "a.gif", "noext"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, wrm.ErrUnsupportedFormat) {
			t.Errorf("%s: expected ErrUnsupportedFormat, got %v", name, err)
		}
	}
	if _, err := Open(filepath.Join(dir, "missing.png")); !errors.Is(err, wrm.ErrInvalidSource) {
		t.Errorf("Expected ErrInvalidSource for a missing file, got %v", err)
	}
	garbage := filepath.Join(dir, "garbage.jpg")
	if err := os.WriteFile(garbage, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(garbage); !errors.Is(err, wrm.ErrInvalidSource) {
		t.Errorf("Expected ErrInvalidSource for an undecodable file, got %v", err)
	}
}

// writeJPEG encodes a w x h JPEG and splices app1, when given, right after
// the SOI marker.
func writeJPEG(t *testing.T, w, h int, app1 []byte) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if app1 != nil {
		seg := []byte{0xff, 0xe1, 0, 0}
		binary.BigEndian.PutUint16(seg[2:], uint16(len(app1)+2))
		data = append(append(append([]byte{}, data[:2]...), append(seg, app1...)...), data[2:]...)
	}
	path := filepath.Join(t.TempDir(), "test.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// exifPayload builds an Exif APP1 payload whose IFD0 holds one orientation
// entry.
func exifPayload(order binary.ByteOrder, orientation uint16) []byte {
	tiff := make([]byte, 8+2+12+4)
	if order == binary.ByteOrder(binary.LittleEndian) {
		copy(tiff, "II")
	} else {
		copy(tiff, "MM")
	}
	order.PutUint16(tiff[2:], 42)
	order.PutUint32(tiff[4:], 8)
	order.PutUint16(tiff[8:], 1)
	order.PutUint16(tiff[10:], 0x0112)
	order.PutUint16(tiff[12:], 3)
	order.PutUint32(tiff[14:], 1)
	order.PutUint16(tiff[18:], orientation)
	return append([]byte("Exif\x00\x00"), tiff...)
}

func TestImageLoadKeepsOneBuffer(t *testing.T) {
	m, err := OpenImage(writePNG(t, 1000, 1000))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	// an RGB PNG decodes to RGBA, which is converted in place
	if got := m.LoadBytes(); got != 1000*1000*4 {
		t.Errorf("Expected a decode peak of 4000000 bytes, got %d", got)
	}
	if err := m.LoadData(); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	img, err := m.Layer(0)
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if cap(img.Pix) != 1000*1000*4 {
		t.Errorf("Expected a single 4000000 byte buffer, got %d", cap(img.Pix))
	}
	if got := img.NRGBAAt(300, 2); got != (color.NRGBA{R: 44, G: 2, B: 7, A: 255}) {
		t.Errorf("Unexpected pixel %v", got)
	}
	m.ReleaseMemory()

	opt := wrm.DefaultOptions()
	opt.RAMLimit = 6
	s, err := wrm.NewSplitter(m, opt)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	if err := s.Split(context.Background(), t.TempDir()); err != nil {
		t.Errorf("Expected the PNG to fit in 6 MB, got %v", err)
	}
}

func TestImageBudgetCountsJPEGDecode(t *testing.T) {
	m, err := OpenImage(writeJPEG(t, 1000, 1000, nil))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	// YCbCr planes next to the NRGBA copy
	if got, want := m.LoadBytes(), int64(1000*1000*(3+4)); got != want {
		t.Errorf("Expected a decode peak of %d bytes, got %d", want, got)
	}
	opt := wrm.DefaultOptions()
	opt.RAMLimit = 6
	s, err := wrm.NewSplitter(m, opt)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	if err := s.Split(context.Background(), t.TempDir()); !errors.Is(err, wrm.ErrMemoryBudget) {
		t.Fatalf("Expected ErrMemoryBudget, got %v", err)
	}
	opt.RAMLimit = 8
	if s, err = wrm.NewSplitter(m, opt); err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	if err := s.Split(context.Background(), t.TempDir()); err != nil {
		t.Errorf("Expected 8 MB to fit, got %v", err)
	}
}

func TestImageClipBudget(t *testing.T) {
	m, err := OpenImage(writePNG(t, 40, 30))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if err := m.SetClipRect(image.Rect(0, 0, 20, 10)); err != nil {
		t.Fatalf("SetClipRect: %v", err)
	}
	// the whole RGBA decode plus the clipped copy
	if got, want := m.LoadBytes(), int64(40*30*4+20*10*4); got != want {
		t.Errorf("Expected %d bytes, got %d", want, got)
	}
}

func TestUnpremultiplyInPlace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	pixels := []color.RGBA{{0, 0, 0, 0}, {10, 20, 30, 255}, {64, 32, 0, 128}, {1, 1, 1, 3}}
	for x, c := range pixels {
		img.SetRGBA(x, 0, c)
	}
	out := unpremultiply(img)
	if &out.Pix[0] != &img.Pix[0] {
		t.Error("Expected the pixels to be shared")
	}
	for x, c := range pixels {
		want := color.NRGBAModel.Convert(c).(color.NRGBA)
		if got := out.NRGBAAt(x, 0); got != want {
			t.Errorf("Pixel %d: expected %v, got %v", x, want, got)
		}
	}
}

func TestImageEXIFOrientation(t *testing.T) {
	for _, c := range []struct {
		order       binary.ByteOrder
		value       uint16
		orientation wrm.Orientation
	}{
		{binary.BigEndian, 6, wrm.Rotate90},
		{binary.LittleEndian, 3, wrm.Rotate180},
		{binary.LittleEndian, 8, wrm.Rotate270},
		{binary.BigEndian, 1, wrm.Rotate0},
		{binary.BigEndian, 9, wrm.Rotate0},
	} {
		m, err := OpenImage(writeJPEG(t, 16, 8, exifPayload(c.order, c.value)))
		if err != nil {
			t.Fatalf("OpenImage: %v", err)
		}
		if got := m.Orientation(); got != c.orientation {
			t.Errorf("EXIF %d: expected %v, got %v", c.value, c.orientation, got)
		}
		if m.Width() != 16 || m.Height() != 8 {
			t.Errorf("Expected the stored 16x8 extent, got %dx%d", m.Width(), m.Height())
		}
	}
	m, err := OpenImage(writeJPEG(t, 16, 8, nil))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if m.Orientation() != wrm.Rotate0 {
		t.Errorf("Expected Rotate0 without EXIF, got %v", m.Orientation())
	}
}
