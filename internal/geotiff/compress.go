package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// Compression schemes and predictors.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2
)

// maxExpansion bounds how many output bytes one stored byte can produce.
func maxExpansion(compression uint64) (uint64, bool) {
	switch compression {
	case compressionNone:
		return 1, true
	case compressionPackBits:
		return 64, true
	case compressionDeflate, compressionDeflateOld:
		return 1032, true
	case compressionLZW:
		return 2731, true
	}
	return 0, false
}

// block returns exactly want decompressed bytes of one strip or tile.
func (d *decoder) block(offset, count, compression uint64, want int) ([]byte, error) {
	if want < 0 {
		return nil, FormatError("negative block size")
	}
	if offset > uint64(len(d.buf)) || count > uint64(len(d.buf))-offset {
		return nil, FormatError("strip or tile data out of range")
	}
	src := d.buf[offset : offset+count]
	if ratio, ok := maxExpansion(compression); ok && uint64(want) > count*ratio {
		return nil, FormatError(fmt.Sprintf("%d stored bytes cannot expand to %d", count, want))
	}

	var rd io.Reader
	switch compression {
	case compressionNone:
		if len(src) < want {
			return nil, FormatError(fmt.Sprintf("short block: have %d bytes, want %d", len(src), want))
		}
		return src[:want:want], nil
	case compressionLZW:
		rd = lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, FormatError("deflate: " + err.Error())
		}
		rd = zr
	case compressionPackBits:
		rd = &packBitsReader{src: src}
	default:
		return nil, UnsupportedError(fmt.Sprintf("compression %d", compression))
	}
	if c, ok := rd.(io.Closer); ok {
		defer c.Close()
	}

	out := make([]byte, want)
	if _, err := io.ReadFull(rd, out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, FormatError(fmt.Sprintf("short block: want %d bytes", want))
		}
		return nil, FormatError(fmt.Sprintf("compression %d: %v", compression, err))
	}
	return out, nil
}

// packBitsReader decodes the Macintosh PackBits run-length scheme.
type packBitsReader struct {
	src []byte
	pos int
	out []byte
}

func (p *packBitsReader) Read(b []byte) (int, error) {
	for len(p.out) == 0 {
		if p.pos >= len(p.src) {
			return 0, io.EOF
		}
		n := int(int8(p.src[p.pos]))
		p.pos++
		switch {
		case n >= 0:
			end := p.pos + n + 1
			if end > len(p.src) {
				return 0, io.ErrUnexpectedEOF
			}
			p.out = p.src[p.pos:end]
			p.pos = end
		case n != -128:
			if p.pos >= len(p.src) {
				return 0, io.ErrUnexpectedEOF
			}
			p.out = bytes.Repeat(p.src[p.pos:p.pos+1], 1-n)
			p.pos++
		}
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	return n, nil
}

// undoHorizontal reverses predictor 2 in place, row by row.
func undoHorizontal(raw []byte, order binary.ByteOrder, rowBytes, rows, spp, bps int) {
	for row := 0; row < rows; row++ {
		line := raw[row*rowBytes : (row+1)*rowBytes]
		switch bps {
		case 1:
			for i := spp; i < len(line); i++ {
				line[i] += line[i-spp]
			}
		case 2:
			for i := spp * 2; i+2 <= len(line); i += 2 {
				v := order.Uint16(line[i:]) + order.Uint16(line[i-2*spp:])
				order.PutUint16(line[i:], v)
			}
		case 4:
			for i := spp * 4; i+4 <= len(line); i += 4 {
				v := order.Uint32(line[i:]) + order.Uint32(line[i-4*spp:])
				order.PutUint32(line[i:], v)
			}
		}
	}
}
