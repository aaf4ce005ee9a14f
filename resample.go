package webrtimaker

import (
	"image"
)

// Downsample reduces src by factor with an area average (box filter).
// Blocks on the right and bottom edges that extend past the image average
// only the pixels that exist, so the result is ceil(w/f) x ceil(h/f).
func Downsample(src *image.NRGBA, factor int) *image.NRGBA {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := ceilDiv(w, factor), ceilDiv(h, factor)
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))

	acc := make([]uint64, dw*4)
	for dy := range dh {
		clear(acc)
		y0 := dy * factor
		y1 := min(y0+factor, h)
		for y := y0; y < y1; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			for x := range w {
				a := (x / factor) * 4
				p := x * 4
				acc[a] += uint64(row[p])
				acc[a+1] += uint64(row[p+1])
				acc[a+2] += uint64(row[p+2])
				acc[a+3] += uint64(row[p+3])
			}
		}
		rows := uint64(y1 - y0)
		out := dst.Pix[dy*dst.Stride : dy*dst.Stride+dw*4]
		for dx := range dw {
			cols := uint64(min(factor, w-dx*factor))
			n := rows * cols
			a := dx * 4
			for c := range 4 {
				out[a+c] = uint8((acc[a+c] + n/2) / n)
			}
		}
	}
	return dst
}

// CropTile returns a view of r within level, sharing its pixels. The
// rectangle is clamped to the level, never padded.
func CropTile(level *image.NRGBA, r image.Rectangle) *image.NRGBA {
	return level.SubImage(r.Intersect(level.Bounds())).(*image.NRGBA)
}

// toNRGBA moves the bounds of a layer to the origin. The pixels are
// shared, never copied.
func toNRGBA(img *image.NRGBA) *image.NRGBA {
	if img.Rect.Min == (image.Point{}) {
		return img
	}
	return &image.NRGBA{Pix: img.Pix, Stride: img.Stride, Rect: image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy())}
}
