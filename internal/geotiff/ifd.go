package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSizes = map[uint16]uint64{
	dtByte: 1, dtASCII: 1, dtSByte: 1, dtUndefined: 1,
	dtShort: 2, dtSShort: 2,
	dtLong: 4, dtSLong: 4, dtFloat: 4,
	dtRational: 8, dtSRational: 8, dtDouble: 8,
}

// GeoKeys.
const (
	keyGeographicType  = 2048
	keyProjectedCSType = 3072
	userDefinedKey     = 32767
)

type field struct {
	typ   uint16
	count uint32
	data  []byte
}

type decoder struct {
	buf    []byte
	order  binary.ByteOrder
	fields map[uint16]field
}

func (d *decoder) readIFD(offset uint32) error {
	start := uint64(offset)
	if start+2 > uint64(len(d.buf)) {
		return FormatError("IFD offset out of range")
	}
	n := uint64(d.order.Uint16(d.buf[start:]))
	entries := start + 2
	if entries+n*12 > uint64(len(d.buf)) {
		return FormatError("IFD entries out of range")
	}

	for i := uint64(0); i < n; i++ {
		p := d.buf[entries+i*12 : entries+i*12+12]
		tag := d.order.Uint16(p[0:2])
		typ := d.order.Uint16(p[2:4])
		count := d.order.Uint32(p[4:8])

		size, ok := typeSizes[typ]
		if !ok {
			// Unknown field types must be skipped.
			continue
		}
		total := size * uint64(count)
		var data []byte
		if total <= 4 {
			data = p[8 : 8+total]
		} else {
			off := uint64(d.order.Uint32(p[8:12]))
			if off+total > uint64(len(d.buf)) {
				return FormatError(fmt.Sprintf("tag %d value out of range", tag))
			}
			data = d.buf[off : off+total]
		}
		d.fields[tag] = field{typ: typ, count: count, data: data}
	}
	return nil
}

func (d *decoder) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints returns the integer values of tag, nil when absent or not integral.
func (d *decoder) uints(tag uint16) []uint64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(f.data[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(f.data[2*i:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(f.data[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) firstUint(tag uint16, def uint64) uint64 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

// floats returns the numeric values of tag converted to float64.
func (d *decoder) floats(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case dtByte, dtUndefined:
			out[i] = float64(f.data[i])
		case dtSByte:
			out[i] = float64(int8(f.data[i]))
		case dtShort:
			out[i] = float64(d.order.Uint16(f.data[2*i:]))
		case dtSShort:
			out[i] = float64(int16(d.order.Uint16(f.data[2*i:])))
		case dtLong:
			out[i] = float64(d.order.Uint32(f.data[4*i:]))
		case dtSLong:
			out[i] = float64(int32(d.order.Uint32(f.data[4*i:])))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.data[4*i:])))
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(f.data[8*i:]))
		case dtRational:
			num, den := d.order.Uint32(f.data[8*i:]), d.order.Uint32(f.data[8*i+4:])
			if den == 0 {
				return nil
			}
			out[i] = float64(num) / float64(den)
		case dtSRational:
			num, den := int32(d.order.Uint32(f.data[8*i:])), int32(d.order.Uint32(f.data[8*i+4:]))
			if den == 0 {
				return nil
			}
			out[i] = float64(num) / float64(den)
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) string {
	f, ok := d.fields[tag]
	if !ok || f.typ != dtASCII {
		return ""
	}
	return strings.TrimRight(string(f.data), "\x00")
}

func (d *decoder) noData() *float64 {
	s := strings.TrimSpace(d.ascii(tagGDALNoData))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (d *decoder) geoInfo() *GeoInfo {
	if !d.has(tagModelPixelScale) && !d.has(tagModelTiepoint) && !d.has(tagGeoKeyDirectory) {
		return nil
	}
	info := &GeoInfo{
		PixelScale: d.floats(tagModelPixelScale),
		Tiepoints:  d.floats(tagModelTiepoint),
	}

	keys := d.uints(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return info
	}
	var projected, geographic int
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i : 4+4*i+4]
		// Only inline SHORT values (location 0) carry CRS codes.
		if k[1] != 0 {
			continue
		}
		switch k[0] {
		case keyProjectedCSType:
			projected = int(k[3])
		case keyGeographicType:
			geographic = int(k[3])
		}
	}
	switch {
	case projected != 0 && projected != userDefinedKey:
		info.EPSG = projected
	case geographic != 0 && geographic != userDefinedKey:
		info.EPSG = geographic
	}
	return info
}
