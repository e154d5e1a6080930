// Package geotiff reads multi-band TIFF and GeoTIFF rasters, the layout used
// by satellite products. Unlike golang.org/x/image/tiff it keeps every band
// and every sample type so callers can choose which bands to render.
//
// Only classic TIFF is handled: first IFD, strips or tiles, chunky or planar
// samples, compression none, LZW, Deflate or PackBits, and the horizontal
// differencing predictor.
package geotiff

import (
	"encoding/binary"
	"fmt"
)

// FormatError reports that the input is not a valid TIFF.
type FormatError string

func (e FormatError) Error() string { return "geotiff: invalid format: " + string(e) }

// UnsupportedError reports a valid TIFF feature this package does not read.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "geotiff: unsupported feature: " + string(e) }

// SampleFormat is the TIFF SampleFormat tag value.
type SampleFormat uint16

// Sample formats.
const (
	FormatUint  SampleFormat = 1
	FormatInt   SampleFormat = 2
	FormatFloat SampleFormat = 3
)

func (f SampleFormat) String() string {
	switch f {
	case FormatUint:
		return "uint"
	case FormatInt:
		return "int"
	case FormatFloat:
		return "float"
	}
	return fmt.Sprintf("SampleFormat(%d)", uint16(f))
}

// DefaultMaxSamples caps width*height*bands for Decode. Samples are held as
// float64, so the cap is 256 MiB of decoded data.
const DefaultMaxSamples = 1 << 25

// maxTilePad is how far a tile may extend past the image edge.
const maxTilePad = 1024

// GeoInfo holds the georeferencing tags found on the raster.
type GeoInfo struct {
	PixelScale []float64
	Tiepoints  []float64
	// EPSG is the projected or geographic CRS code, 0 when unknown.
	EPSG int
}

// Raster is a decoded multi-band image stored band-major:
// Samples[band][y*Width+x].
type Raster struct {
	Width         int
	Height        int
	Bands         int
	BitsPerSample int
	Format        SampleFormat
	Samples       [][]float64
	NoData        *float64
	Geo           *GeoInfo
}

// Decode parses a TIFF held in data with the DefaultMaxSamples limit.
func Decode(data []byte) (*Raster, error) {
	return DecodeLimited(data, DefaultMaxSamples)
}

// DecodeLimited parses a TIFF held in data, rejecting rasters with more than
// maxSamples samples before any pixel storage is allocated.
func DecodeLimited(data []byte, maxSamples int) (*Raster, error) {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	if len(data) < 8 {
		return nil, FormatError("file too short")
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, FormatError("missing byte order mark")
	}

	switch order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, UnsupportedError("BigTIFF")
	default:
		return nil, FormatError("bad magic number")
	}

	d := &decoder{buf: data, order: order, fields: make(map[uint16]field)}
	if err := d.readIFD(order.Uint32(data[4:8])); err != nil {
		return nil, err
	}
	return d.decode(uint64(maxSamples))
}
