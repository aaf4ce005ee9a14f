package source

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"

	wrm "github.com/setanarut/webrtimaker"
)

const exifOrientationTag = 0x0112

// exifRotation maps the EXIF orientation values 1 to 8 onto quarter turns.
// Mirrored values keep their rotation part.
var exifRotation = [9]wrm.Orientation{
	1: wrm.Rotate0, 2: wrm.Rotate0,
	3: wrm.Rotate180, 4: wrm.Rotate180,
	5: wrm.Rotate270, 6: wrm.Rotate90,
	7: wrm.Rotate90, 8: wrm.Rotate270,
}

var errNoOrientation = errors.New("no EXIF orientation")

// jpegOrientation walks the JPEG markers up to the first scan and returns
// the orientation tag of the first APP1 Exif segment that has one.
func jpegOrientation(filename string) (int, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var soi [2]byte
	if _, err := io.ReadFull(r, soi[:]); err != nil {
		return 0, err
	}
	if soi != [2]byte{0xff, 0xd8} {
		return 0, errNoOrientation
	}
	for {
		marker, err := nextMarker(r)
		if err != nil {
			return 0, err
		}
		switch {
		case marker == 0xd9, marker == 0xda: // EOI, SOS
			return 0, errNoOrientation
		case marker >= 0xd0 && marker <= 0xd7, marker == 0x01:
			continue
		}
		var size [2]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return 0, err
		}
		n := int(binary.BigEndian.Uint16(size[:])) - 2
		if n < 0 {
			return 0, errNoOrientation
		}
		if marker != 0xe1 {
			if _, err := r.Discard(n); err != nil {
				return 0, err
			}
			continue
		}
		seg := make([]byte, n)
		if _, err := io.ReadFull(r, seg); err != nil {
			return 0, err
		}
		if v, ok := exifOrientation(seg); ok {
			return v, nil
		}
	}
}

// nextMarker skips to the next 0xff and any fill bytes after it.
func nextMarker(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0xff {
		return 0, errNoOrientation
	}
	for b == 0xff {
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
	}
	return b, nil
}

// exifOrientation reads tag 0x0112 from IFD0 of an APP1 payload.
func exifOrientation(seg []byte) (int, bool) {
	if !bytes.HasPrefix(seg, []byte("Exif\x00\x00")) || len(seg) < 14 {
		return 0, false
	}
	tiff := seg[6:]
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, false
	}
	if order.Uint16(tiff[2:]) != 42 {
		return 0, false
	}
	ifd := int64(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > int64(len(tiff)) {
		return 0, false
	}
	entries := int(order.Uint16(tiff[ifd:]))
	for i := range entries {
		e := int(ifd) + 2 + 12*i
		if e+12 > len(tiff) {
			break
		}
		if order.Uint16(tiff[e:]) != exifOrientationTag {
			continue
		}
		// one SHORT, stored in the first half of the value field
		if order.Uint16(tiff[e+2:]) != 3 || order.Uint32(tiff[e+4:]) != 1 {
			return 0, false
		}
		v := int(order.Uint16(tiff[e+8:]))
		return v, v >= 1 && v <= 8
	}
	return 0, false
}
