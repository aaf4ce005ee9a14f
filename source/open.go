// Package source provides the MultiLayerImage variants: plain rasters and
// LRGB polynomial texture maps.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	wrm "github.com/setanarut/webrtimaker"
)

// Open picks the variant from the file extension.
func Open(filename string) (wrm.MultiLayerImage, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".webp":
		return OpenImage(filename)
	case ".ptm":
		return OpenPTM(filename)
	default:
		return nil, fmt.Errorf("%w: %q (accepted: ptm, jpg, png, tif, bmp, webp)", wrm.ErrUnsupportedFormat, ext)
	}
}
