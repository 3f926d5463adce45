// Package imagetype identifies image formats from their leading bytes
// and decodes pixel dimensions without decoding pixel data.
package imagetype

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Registers GIF.
	_ "image/jpeg" // Registers JPEG.
	_ "image/png"  // Registers PNG.
	"slices"

	_ "golang.org/x/image/bmp"  // Registers BMP.
	_ "golang.org/x/image/tiff" // Registers TIFF.
	_ "golang.org/x/image/webp" // Registers WebP.
)

type (
	// Type is a MIME type of an image format.
	Type string

	constError string

	signature struct {
		typ    Type
		prefix []byte
		// Optional second marker at a fixed offset.
		marker []byte
		offset int
	}
)

const (
	Unknown Type = "unknown"
	PNG     Type = "image/png"
	JPEG    Type = "image/jpeg"
	GIF     Type = "image/gif"
	BMP     Type = "image/bmp"
	WebP    Type = "image/webp"
	TIFF    Type = "image/tiff"
	SVG     Type = "image/svg"
	ICO     Type = "image/ico"
	HEIC    Type = "image/heic"
)

// ErrUnsupported may be returned from [Dimensions].
const ErrUnsupported = constError("unsupported image type")

// headerLength is how many leading bytes [Sniff] inspects.
const headerLength = 12

var (
	signatures = []signature{
		{typ: PNG, prefix: []byte("\x89PNG")},
		{typ: GIF, prefix: []byte("GIF87a")},
		{typ: GIF, prefix: []byte("GIF89a")},
		{typ: JPEG, prefix: []byte("\xff\xd8\xff")},
		{typ: TIFF, prefix: []byte("II*\x00")},
		{typ: TIFF, prefix: []byte("MM\x00*")},
		{typ: BMP, prefix: []byte("BM")},
		{typ: WebP, prefix: []byte("RIFF"), marker: []byte("WEBP"), offset: 8},
		{typ: SVG, prefix: []byte("<?xml ")},
		{typ: SVG, prefix: []byte("<svg")},
		{typ: ICO, prefix: []byte("\x00\x00\x01\x00")},
		{typ: HEIC, prefix: []byte("ftypheic")},
	}
	supported = []Type{PNG, JPEG, GIF, BMP, WebP, TIFF}
)

func (errStr constError) Error() string { return string(errStr) }

func unsupportedError(typ Type) error {
	return fmt.Errorf(
		"%w: %s",
		ErrUnsupported, typ)
}

// Sniff returns the format of data, or [Unknown].
func Sniff(data []byte) Type {
	if len(data) > headerLength {
		data = data[:headerLength]
	}
	for _, sig := range signatures {
		if !bytes.HasPrefix(data, sig.prefix) {
			continue
		}
		if sig.marker != nil &&
			!bytes.HasPrefix(data[min(sig.offset, len(data)):], sig.marker) {
			continue
		}
		return sig.typ
	}
	return Unknown
}

// Supported reports whether [Dimensions] can decode typ.
func (typ Type) Supported() bool { return slices.Contains(supported, typ) }

// Supported returns the decodable formats.
func Supported() []Type { return slices.Clone(supported) }

// Valid reports whether data holds a decodable format.
func Valid(data []byte) bool { return Sniff(data).Supported() }

// Dimensions returns the format and pixel size of the image in data.
func Dimensions(data []byte) (Type, image.Point, error) {
	typ := Sniff(data)
	if !typ.Supported() {
		return typ, image.Point{}, unsupportedError(typ)
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return typ, image.Point{}, fmt.Errorf("decoding %s header: %w", typ, err)
	}
	return typ, image.Pt(config.Width, config.Height), nil
}
