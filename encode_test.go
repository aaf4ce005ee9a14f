package webrtimaker

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"testing"
)

func TestTilePathImageTree(t *testing.T) {
	p, err := PlanPyramid(1000, 800, 256, StrategyImageTree)
	if err != nil {
		t.Fatalf("PlanPyramid: %v", err)
	}
	// node 5 + row 1 (2) + col 3 (1 + 4) = 12
	id := TileID{Level: 2, Row: 1, Col: 3}
	if got, want := TilePath("out", p, id, 0, "png"), filepath.Join("out", "13_1.png"); got != want {
		t.Errorf("Layer 1: expected %s, got %s", want, got)
	}
	if got, want := TilePath("out", p, id, 2, "jpg"), filepath.Join("out", "13_3.jpg"); got != want {
		t.Errorf("Layer 3: expected %s, got %s", want, got)
	}
	if got, want := TilePath("out", p, TileID{}, 0, "png"), filepath.Join("out", "1_1.png"); got != want {
		t.Errorf("Root: expected %s, got %s", want, got)
	}
}

func TestTilePathIIIF(t *testing.T) {
	p, err := PlanPyramid(300, 200, 64, StrategyIIIF)
	if err != nil {
		t.Fatalf("PlanPyramid: %v", err)
	}
	if p.NumLevels() != 2 {
		t.Fatalf("Expected 2 levels, got %d", p.NumLevels())
	}
	native := TilePath("out", p, TileID{Level: 1}, 0, "png")
	if want := filepath.Join("out", "layer1", "0,0,300,200", "300,200", "0", "default.png"); native != want {
		t.Errorf("Expected %s, got %s", want, native)
	}
	half := TilePath("out", p, TileID{Level: 0}, 1, "png")
	if want := filepath.Join("out", "layer2", "0,0,300,200", "150,100", "0", "default.png"); half != want {
		t.Errorf("Expected %s, got %s", want, half)
	}
}

func TestEncodersProduceDecodableTiles(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 13, 7))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	for _, f := range []Format{FormatPNG, FormatJPG} {
		enc, err := NewEncoder(f, 0)
		if err != nil {
			t.Fatalf("NewEncoder(%v): %v", f, err)
		}
		if enc.Extension() != f.String() {
			t.Errorf("Expected extension %s, got %s", f, enc.Extension())
		}
		var buf bytes.Buffer
		if err := enc.Encode(&buf, img); err != nil {
			t.Fatalf("%v encode: %v", f, err)
		}
		cfg, name, err := image.DecodeConfig(&buf)
		if err != nil {
			t.Fatalf("%v decode: %v", f, err)
		}
		if cfg.Width != 13 || cfg.Height != 7 {
			t.Errorf("%v: expected 13x7, got %dx%d", f, cfg.Width, cfg.Height)
		}
		if want := map[Format]string{FormatPNG: "png", FormatJPG: "jpeg"}[f]; name != want {
			t.Errorf("Expected %s stream, got %s", want, name)
		}
	}
}

func TestTilePatternDocumentsLayout(t *testing.T) {
	if got := TilePattern(StrategyImageTree, "png"); got != "{node}_{layer}.png" {
		t.Errorf("Unexpected image tree pattern %s", got)
	}
	if got := TilePattern(StrategyIIIF, "jpg"); got != "layer{layer}/{x},{y},{w},{h}/{tw},{th}/0/default.jpg" {
		t.Errorf("Unexpected IIIF pattern %s", got)
	}
}
