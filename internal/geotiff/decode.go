package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
)

func (d *decoder) decode(maxSamples uint64) (*Raster, error) {
	width := int(d.firstUint(tagImageWidth, 0))
	height := int(d.firstUint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, FormatError("missing image dimensions")
	}
	bands := int(d.firstUint(tagSamplesPerPixel, 1))
	if bands <= 0 {
		return nil, FormatError("samples per pixel must be positive")
	}
	samples := uint64(width) * uint64(height) * uint64(bands)
	if samples > maxSamples {
		return nil, UnsupportedError(fmt.Sprintf("raster too large: %dx%dx%d", width, height, bands))
	}

	bits, err := d.uniform(tagBitsPerSample, bands, 1)
	if err != nil {
		return nil, err
	}
	fmtVal, err := d.uniform(tagSampleFormat, bands, uint64(FormatUint))
	if err != nil {
		return nil, err
	}
	format := SampleFormat(fmtVal)
	if err := checkSampleType(format, int(bits)); err != nil {
		return nil, err
	}

	compression := d.firstUint(tagCompression, compressionNone)
	expansion, ok := maxExpansion(compression)
	if !ok {
		return nil, UnsupportedError(fmt.Sprintf("compression %d", compression))
	}
	predictor := d.firstUint(tagPredictor, predictorNone)
	switch predictor {
	case predictorNone:
	case predictorHorizontal:
		if format == FormatFloat {
			return nil, UnsupportedError("horizontal predictor on floating point samples")
		}
	default:
		return nil, UnsupportedError(fmt.Sprintf("predictor %d", predictor))
	}

	planar := d.firstUint(tagPlanarConfig, 1)
	if planar != 1 && planar != 2 {
		return nil, FormatError(fmt.Sprintf("planar configuration %d", planar))
	}

	l, err := d.layout(width, height)
	if err != nil {
		return nil, err
	}

	planes, sppBlock := 1, bands
	if planar == 2 {
		planes, sppBlock = bands, 1
	}
	perPlane := l.across * l.down
	if len(l.offsets) < perPlane*planes || len(l.counts) < perPlane*planes {
		return nil, FormatError("not enough strip or tile offsets")
	}

	bps := int(bits) / 8
	var stored uint64
	for _, c := range l.counts[:perPlane*planes] {
		stored += min(c, uint64(len(d.buf)))
	}
	if samples*uint64(bps) > stored*expansion {
		return nil, FormatError(fmt.Sprintf("%d bytes of strip or tile data cannot hold a %dx%dx%d raster",
			stored, width, height, bands))
	}

	rowBytes64 := uint64(l.blockW) * uint64(sppBlock) * uint64(bps)
	if rowBytes64*uint64(l.blockH) > maxSamples*8 {
		return nil, UnsupportedError(fmt.Sprintf("block too large: %dx%d", l.blockW, l.blockH))
	}
	rowBytes := int(rowBytes64)

	r := &Raster{
		Width:         width,
		Height:        height,
		Bands:         bands,
		BitsPerSample: int(bits),
		Format:        format,
		Samples:       make([][]float64, bands),
		NoData:        d.noData(),
		Geo:           d.geoInfo(),
	}
	for b := range r.Samples {
		r.Samples[b] = make([]float64, width*height)
	}

	for plane := 0; plane < planes; plane++ {
		for by := 0; by < l.down; by++ {
			for bx := 0; bx < l.across; bx++ {
				idx := plane*perPlane + by*l.across + bx
				rows := l.blockH
				if !l.tiled {
					rows = min(l.blockH, height-by*l.blockH)
				}

				raw, err := d.block(l.offsets[idx], l.counts[idx], compression, rows*rowBytes)
				if err != nil {
					return nil, err
				}
				if predictor == predictorHorizontal {
					undoHorizontal(raw, d.order, rowBytes, rows, sppBlock, bps)
				}

				x0, y0 := bx*l.blockW, by*l.blockH
				for row := 0; row < rows && y0+row < height; row++ {
					y := y0 + row
					for col := 0; col < l.blockW && x0+col < width; col++ {
						px := y*width + x0 + col
						for s := 0; s < sppBlock; s++ {
							band := s
							if planar == 2 {
								band = plane
							}
							off := row*rowBytes + (col*sppBlock+s)*bps
							r.Samples[band][px] = readSample(raw[off:off+bps], d.order, format, bps)
						}
					}
				}
			}
		}
	}
	return r, nil
}

// uniform returns the single value a per-sample tag holds for every band.
func (d *decoder) uniform(tag uint16, bands int, def uint64) (uint64, error) {
	vals := d.uints(tag)
	if len(vals) == 0 {
		return def, nil
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, UnsupportedError(fmt.Sprintf("tag %d differs between bands", tag))
		}
	}
	if len(vals) != 1 && len(vals) != bands {
		return 0, FormatError(fmt.Sprintf("tag %d has %d values for %d bands", tag, len(vals), bands))
	}
	return vals[0], nil
}

func checkSampleType(format SampleFormat, bits int) error {
	switch format {
	case FormatUint, FormatInt:
		if bits == 8 || bits == 16 || bits == 32 {
			return nil
		}
	case FormatFloat:
		if bits == 32 || bits == 64 {
			return nil
		}
	default:
		return UnsupportedError(fmt.Sprintf("sample format %d", uint16(format)))
	}
	return UnsupportedError(fmt.Sprintf("%d-bit %s samples", bits, format))
}

type layout struct {
	tiled          bool
	blockW, blockH int
	across, down   int
	offsets        []uint64
	counts         []uint64
}

func (d *decoder) layout(width, height int) (layout, error) {
	var l layout
	if d.has(tagTileWidth) {
		l.tiled = true
		l.blockW = int(d.firstUint(tagTileWidth, 0))
		l.blockH = int(d.firstUint(tagTileLength, 0))
		if l.blockW <= 0 || l.blockH <= 0 {
			return l, FormatError("invalid tile size")
		}
		if l.blockW > width+maxTilePad || l.blockH > height+maxTilePad {
			return l, FormatError(fmt.Sprintf("tile %dx%d exceeds %dx%d image", l.blockW, l.blockH, width, height))
		}
		l.offsets = d.uints(tagTileOffsets)
		l.counts = d.uints(tagTileByteCounts)
	} else {
		l.blockW = width
		l.blockH = int(d.firstUint(tagRowsPerStrip, uint64(height)))
		if l.blockH <= 0 || l.blockH > height {
			l.blockH = height
		}
		l.offsets = d.uints(tagStripOffsets)
		l.counts = d.uints(tagStripByteCounts)
	}
	if len(l.offsets) == 0 {
		return l, FormatError("missing strip or tile offsets")
	}
	l.across = (width + l.blockW - 1) / l.blockW
	l.down = (height + l.blockH - 1) / l.blockH
	return l, nil
}

func readSample(b []byte, order binary.ByteOrder, format SampleFormat, bps int) float64 {
	switch format {
	case FormatUint:
		switch bps {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		}
	case FormatInt:
		switch bps {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		}
	case FormatFloat:
		switch bps {
		case 4:
			return float64(math.Float32frombits(order.Uint32(b)))
		case 8:
			return math.Float64frombits(order.Uint64(b))
		}
	}
	return math.NaN()
}
