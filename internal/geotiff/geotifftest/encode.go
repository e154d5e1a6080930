// Package geotifftest builds small synthetic TIFF and GeoTIFF files for tests.
package geotifftest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"sort"
	"strings"
)

// Compression selects how strips and tiles are stored.
type Compression int

// Supported compressions.
const (
	None Compression = iota
	Deflate
	PackBits
)

// Options describes the raster to encode. Zero values give a 3-band 8-bit
// chunky strip image. Bits is 8, 16 or 32; Float forces 32-bit IEEE samples.
// EPSG > 0 adds ModelPixelScale, ModelTiepoint and GeoKeyDirectory tags.
// Sample returns the value stored for band at (x, y).
type Options struct {
	Width        int
	Height       int
	Bands        int
	Bits         int
	Float        bool
	Planar       bool
	Compression  Compression
	Predictor    bool
	RowsPerStrip int
	TileSize     int
	BigEndian    bool
	EPSG         int
	NoData       string
	Sample       func(band, x, y int) float64
}

type entry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

// Encode returns the TIFF file described by o.
func Encode(o Options) []byte {
	if o.Bands == 0 {
		o.Bands = 3
	}
	if o.Bits == 0 {
		o.Bits = 8
	}
	if o.Float {
		o.Bits = 32
	}
	if o.Sample == nil {
		o.Sample = func(band, x, y int) float64 { return float64((band*40 + x + y) % 256) }
	}

	var order binary.ByteOrder = binary.LittleEndian
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if o.BigEndian {
		order = binary.BigEndian
		header = []byte{'M', 'M', 0, 42, 0, 0, 0, 0}
	}

	bps := o.Bits / 8
	blockW, blockH := o.Width, o.Height
	if o.TileSize > 0 {
		blockW, blockH = o.TileSize, o.TileSize
	} else if o.RowsPerStrip > 0 && o.RowsPerStrip < o.Height {
		blockH = o.RowsPerStrip
	}
	across := (o.Width + blockW - 1) / blockW
	down := (o.Height + blockH - 1) / blockH
	planes, spp := 1, o.Bands
	if o.Planar {
		planes, spp = o.Bands, 1
	}

	buf := bytes.NewBuffer(header)
	var offsets, counts []uint32
	rowBytes := blockW * spp * bps
	for plane := 0; plane < planes; plane++ {
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				rows := blockH
				if o.TileSize == 0 {
					rows = min(blockH, o.Height-by*blockH)
				}
				raw := make([]byte, rows*rowBytes)
				for row := 0; row < rows; row++ {
					for col := 0; col < blockW; col++ {
						x, y := bx*blockW+col, by*blockH+row
						for s := 0; s < spp; s++ {
							band := s
							if o.Planar {
								band = plane
							}
							var v float64
							if x < o.Width && y < o.Height {
								v = o.Sample(band, x, y)
							}
							putSample(raw[row*rowBytes+(col*spp+s)*bps:], order, o.Float, bps, v)
						}
					}
				}
				if o.Predictor {
					applyHorizontal(raw, order, rowBytes, rows, spp, bps)
				}
				data := compress(raw, o.Compression)
				offsets = append(offsets, uint32(buf.Len()))
				counts = append(counts, uint32(len(data)))
				buf.Write(data)
				if buf.Len()%2 == 1 {
					buf.WriteByte(0)
				}
			}
		}
	}

	shorts := func(vals ...int) []uint16 {
		out := make([]uint16, len(vals))
		for i, v := range vals {
			out[i] = uint16(v)
		}
		return out
	}
	perBand := func(v int) []uint16 {
		out := make([]uint16, o.Bands)
		for i := range out {
			out[i] = uint16(v)
		}
		return out
	}

	photometric := 2
	if o.Bands < 3 {
		photometric = 1
	}
	compression := 1
	switch o.Compression {
	case Deflate:
		compression = 8
	case PackBits:
		compression = 32773
	}
	sampleFormat := 1
	if o.Float {
		sampleFormat = 3
	}
	predictor := 1
	if o.Predictor {
		predictor = 2
	}
	planar := 1
	if o.Planar {
		planar = 2
	}

	entries := []entry{
		longEntry(order, 256, uint32(o.Width)),
		longEntry(order, 257, uint32(o.Height)),
		shortEntry(order, 258, perBand(o.Bits)...),
		shortEntry(order, 259, shorts(compression)...),
		shortEntry(order, 262, shorts(photometric)...),
		shortEntry(order, 277, shorts(o.Bands)...),
		shortEntry(order, 284, shorts(planar)...),
		shortEntry(order, 317, shorts(predictor)...),
		shortEntry(order, 339, perBand(sampleFormat)...),
	}
	if o.TileSize > 0 {
		entries = append(entries,
			longEntry(order, 322, uint32(o.TileSize)),
			longEntry(order, 323, uint32(o.TileSize)),
			longEntry(order, 324, offsets...),
			longEntry(order, 325, counts...),
		)
	} else {
		entries = append(entries,
			longEntry(order, 273, offsets...),
			longEntry(order, 278, uint32(blockH)),
			longEntry(order, 279, counts...),
		)
	}
	if o.EPSG > 0 {
		entries = append(entries,
			doubleEntry(order, 33550, 10, 10, 0),
			doubleEntry(order, 33922, 0, 0, 0, 500000, 4500000, 0),
			shortEntry(order, 34735, shorts(1, 1, 0, 2, 1024, 0, 1, 1, 3072, 0, 1, o.EPSG)...),
		)
	}
	if o.NoData != "" {
		entries = append(entries, entry{tag: 42113, typ: 2, count: uint32(len(o.NoData) + 1), data: []byte(o.NoData + "\x00")})
	}
	return appendIFD(buf.Bytes(), order, entries)
}

// appendIFD sorts entries, appends them as the first IFD of out and points
// the header at it.
func appendIFD(out []byte, order binary.ByteOrder, entries []entry) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := uint32(len(out))
	extra := ifdOffset + 2 + uint32(len(entries))*12 + 4
	var ifd, tail bytes.Buffer
	writeUint16(&ifd, order, uint16(len(entries)))
	for _, e := range entries {
		writeUint16(&ifd, order, e.tag)
		writeUint16(&ifd, order, e.typ)
		writeUint32(&ifd, order, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			ifd.Write(inline[:])
			continue
		}
		writeUint32(&ifd, order, extra+uint32(tail.Len()))
		tail.Write(e.data)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
	}
	writeUint32(&ifd, order, 0)

	order.PutUint32(out[4:8], ifdOffset)
	out = append(out, ifd.Bytes()...)
	return append(out, tail.Bytes()...)
}

// Header describes a TIFF whose IFD declares a raster without storing it.
// TileWidth > 0 declares a single tile instead of a single strip. ByteCount
// is the declared size of that block.
type Header struct {
	Width, Height         uint32
	Bands, Bits           uint16
	SampleFormat          uint16
	TileWidth, TileLength uint32
	ByteCount             uint32
}

// EncodeHeader returns a little-endian TIFF holding only the IFD for h and
// eight bytes of block data.
func EncodeHeader(h Header) []byte {
	order := binary.LittleEndian
	if h.Bands == 0 {
		h.Bands = 1
	}
	if h.Bits == 0 {
		h.Bits = 8
	}
	if h.SampleFormat == 0 {
		h.SampleFormat = 1
	}
	perBand := func(v uint16) []uint16 {
		out := make([]uint16, h.Bands)
		for i := range out {
			out[i] = v
		}
		return out
	}

	const dataOffset = 8
	entries := []entry{
		longEntry(order, 256, h.Width),
		longEntry(order, 257, h.Height),
		shortEntry(order, 258, perBand(h.Bits)...),
		shortEntry(order, 259, 1),
		shortEntry(order, 262, 1),
		shortEntry(order, 277, h.Bands),
		shortEntry(order, 339, perBand(h.SampleFormat)...),
	}
	if h.TileWidth > 0 {
		entries = append(entries,
			longEntry(order, 322, h.TileWidth),
			longEntry(order, 323, h.TileLength),
			longEntry(order, 324, dataOffset),
			longEntry(order, 325, h.ByteCount),
		)
	} else {
		entries = append(entries,
			longEntry(order, 273, dataOffset),
			longEntry(order, 279, h.ByteCount),
		)
	}

	out := append([]byte{'I', 'I', 42, 0, 0, 0, 0, 0}, make([]byte, 8)...)
	return appendIFD(out, order, entries)
}

// Garbage returns bytes that no image decoder accepts.
func Garbage() []byte {
	return []byte(strings.Repeat("definitely not an image ", 8))
}

func putSample(b []byte, order binary.ByteOrder, float bool, bps int, v float64) {
	if float {
		order.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	switch bps {
	case 1:
		b[0] = uint8(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	}
}

func applyHorizontal(raw []byte, order binary.ByteOrder, rowBytes, rows, spp, bps int) {
	for row := 0; row < rows; row++ {
		line := raw[row*rowBytes : (row+1)*rowBytes]
		switch bps {
		case 1:
			for i := len(line) - 1; i >= spp; i-- {
				line[i] -= line[i-spp]
			}
		case 2:
			for i := len(line) - 2; i >= 2*spp; i -= 2 {
				order.PutUint16(line[i:], order.Uint16(line[i:])-order.Uint16(line[i-2*spp:]))
			}
		case 4:
			for i := len(line) - 4; i >= 4*spp; i -= 4 {
				order.PutUint32(line[i:], order.Uint32(line[i:])-order.Uint32(line[i-4*spp:]))
			}
		}
	}
}

func compress(raw []byte, c Compression) []byte {
	switch c {
	case Deflate:
		var b bytes.Buffer
		zw := zlib.NewWriter(&b)
		_, _ = zw.Write(raw)
		_ = zw.Close()
		return b.Bytes()
	case PackBits:
		var b bytes.Buffer
		for i := 0; i < len(raw); i += 128 {
			chunk := raw[i:min(i+128, len(raw))]
			b.WriteByte(byte(len(chunk) - 1))
			b.Write(chunk)
		}
		return b.Bytes()
	}
	return raw
}

func shortEntry(order binary.ByteOrder, tag uint16, vals ...uint16) entry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		order.PutUint16(data[2*i:], v)
	}
	return entry{tag: tag, typ: 3, count: uint32(len(vals)), data: data}
}

func longEntry(order binary.ByteOrder, tag uint16, vals ...uint32) entry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		order.PutUint32(data[4*i:], v)
	}
	return entry{tag: tag, typ: 4, count: uint32(len(vals)), data: data}
}

func doubleEntry(order binary.ByteOrder, tag uint16, vals ...float64) entry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: 12, count: uint32(len(vals)), data: data}
}

func writeUint16(b *bytes.Buffer, order binary.ByteOrder, v uint16) {
	var tmp [2]byte
	order.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func writeUint32(b *bytes.Buffer, order binary.ByteOrder, v uint32) {
	var tmp [4]byte
	order.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}
