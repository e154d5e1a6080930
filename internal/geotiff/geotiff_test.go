package geotiff_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/landcovernet/internal/geotiff"
	"github.com/example/landcovernet/internal/geotiff/geotifftest"
)

func pattern(band, x, y int) float64 {
	return float64((band*31 + x*7 + y*3) % 256)
}

func TestDecodeLayouts(t *testing.T) {
	cases := map[string]geotifftest.Options{
		"chunky strip":       {},
		"multiple strips":    {RowsPerStrip: 3},
		"planar":             {Planar: true},
		"tiled chunky":       {TileSize: 16},
		"tiled planar":       {TileSize: 16, Planar: true},
		"big endian":         {BigEndian: true},
		"deflate":            {Compression: geotifftest.Deflate},
		"packbits":           {Compression: geotifftest.PackBits, RowsPerStrip: 5},
		"predictor":          {Predictor: true, Compression: geotifftest.Deflate},
		"predictor planar":   {Predictor: true, Planar: true},
		"thirteen bands":     {Bands: 13, Planar: true},
		"sixteen bit":        {Bits: 16, Predictor: true, BigEndian: true},
		"sixteen bit planar": {Bits: 16, Planar: true, Compression: geotifftest.Deflate},
	}

	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			opts.Width, opts.Height = 21, 13
			opts.Sample = pattern
			bands := opts.Bands
			if bands == 0 {
				bands = 3
			}

			r, err := geotiff.Decode(geotifftest.Encode(opts))
			require.NoError(t, err)
			assert.Equal(t, 21, r.Width)
			assert.Equal(t, 13, r.Height)
			require.Equal(t, bands, r.Bands)

			for b := 0; b < bands; b++ {
				for y := 0; y < 13; y++ {
					for x := 0; x < 21; x++ {
						require.Equal(t, pattern(b, x, y), r.Samples[b][y*21+x], "band %d at (%d,%d)", b, x, y)
					}
				}
			}
		})
	}
}

func TestDecodeFloatSamples(t *testing.T) {
	data := geotifftest.Encode(geotifftest.Options{
		Width: 4, Height: 2, Bands: 1, Float: true,
		Sample: func(_, x, y int) float64 { return float64(x) + 0.5*float64(y) },
	})

	r, err := geotiff.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, geotiff.FormatFloat, r.Format)
	assert.Equal(t, 32, r.BitsPerSample)
	assert.InDelta(t, 3.5, r.Samples[0][1*4+3], 1e-6)
}

func TestDecodeGeoTags(t *testing.T) {
	data := geotifftest.Encode(geotifftest.Options{Width: 8, Height: 8, EPSG: 32633, NoData: "0"})

	r, err := geotiff.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, r.Geo)
	assert.Equal(t, 32633, r.Geo.EPSG)
	assert.Equal(t, []float64{10, 10, 0}, r.Geo.PixelScale)
	assert.Len(t, r.Geo.Tiepoints, 6)
	require.NotNil(t, r.NoData)
	assert.Equal(t, 0.0, *r.NoData)
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	_, err := geotiff.Decode(geotifftest.Garbage())
	var formatErr geotiff.FormatError
	require.ErrorAs(t, err, &formatErr)

	_, err = geotiff.Decode([]byte("II"))
	require.ErrorAs(t, err, &formatErr)

	bigTIFF := []byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err = geotiff.Decode(bigTIFF)
	var unsupported geotiff.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	data := geotifftest.Encode(geotifftest.Options{Width: 16, Height: 16})
	// Chop pixel data while keeping the header pointing at an IFD past the end.
	_, err := geotiff.Decode(data[:len(data)/2])
	require.Error(t, err)
}

func TestInterleavedIsRowColumnBand(t *testing.T) {
	r := &geotiff.Raster{
		Width: 2, Height: 1, Bands: 3,
		Samples: [][]float64{{1, 2}, {10, 20}, {100, 200}},
	}
	assert.Equal(t, []float64{1, 10, 100, 2, 20, 200}, r.Interleaved())
}

func TestRGBEightBitCopiesSamples(t *testing.T) {
	r, err := geotiff.Decode(geotifftest.Encode(geotifftest.Options{Width: 5, Height: 4, Sample: pattern}))
	require.NoError(t, err)

	img, err := r.RGB([3]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	c := img.RGBAAt(3, 2)
	assert.Equal(t, uint8(pattern(0, 3, 2)), c.R)
	assert.Equal(t, uint8(pattern(1, 3, 2)), c.G)
	assert.Equal(t, uint8(pattern(2, 3, 2)), c.B)
	assert.Equal(t, uint8(0xff), c.A)
}

func TestRGBSelectsBandsAndStretches(t *testing.T) {
	r, err := geotiff.Decode(geotifftest.Encode(geotifftest.Options{
		Width: 4, Height: 1, Bands: 13, Bits: 16, Planar: true,
		Sample: func(band, x, _ int) float64 { return float64(1000*band + 100*x) },
	}))
	require.NoError(t, err)

	img, err := r.RGB([3]int{3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), img.RGBAAt(3, 0).R)
	assert.Equal(t, uint8(85), img.RGBAAt(1, 0).G)

	_, err = r.RGB([3]int{0, 1, 13})
	require.Error(t, err)
}

func TestRGBReplicatesSingleBandAndHandlesNoData(t *testing.T) {
	r := &geotiff.Raster{
		Width: 3, Height: 1, Bands: 1, BitsPerSample: 16, Format: geotiff.FormatUint,
		Samples: [][]float64{{-9999, 10, 20}},
	}
	nodata := -9999.0
	r.NoData = &nodata

	img, err := r.RGB([3]int{5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), img.RGBAAt(1, 0).G)
	c := img.RGBAAt(2, 0)
	assert.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{c.R, c.G, c.B})
}

func TestRGBConstantBandIsBlack(t *testing.T) {
	r := &geotiff.Raster{
		Width: 2, Height: 1, Bands: 1, BitsPerSample: 32, Format: geotiff.FormatFloat,
		Samples: [][]float64{{7, 7}},
	}
	img, err := r.RGB([3]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.RGBAAt(1, 0).B)
}

func TestDecodeRejectsOversizedTiles(t *testing.T) {
	cases := map[string]geotifftest.Header{
		"tile wraps int": {
			Width: 1, Height: 1, Bands: 4, SampleFormat: 2,
			TileWidth: 0xFFFFFFFF, TileLength: 0xFFFFFFFF, ByteCount: 8,
		},
		"tile past data": {
			Width: 1, Height: 1, Bands: 4, SampleFormat: 2,
			TileWidth: 1024, TileLength: 1024, ByteCount: 8,
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			var r *geotiff.Raster
			var err error
			require.NotPanics(t, func() { r, err = geotiff.Decode(geotifftest.EncodeHeader(h)) })
			assert.Nil(t, r)
			var formatErr geotiff.FormatError
			require.ErrorAs(t, err, &formatErr)
		})
	}
}

func TestDecodeChecksDataBeforeAllocating(t *testing.T) {
	data := geotifftest.EncodeHeader(geotifftest.Header{Width: 4096, Height: 4096, ByteCount: 0xFFFFFFFF})

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := geotiff.Decode(data)
	runtime.ReadMemStats(&after)

	var formatErr geotiff.FormatError
	require.ErrorAs(t, err, &formatErr)
	// A 4096x4096 band of float64 samples would be 128 MiB.
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestDecodeLimitedCapsSamples(t *testing.T) {
	var unsupported geotiff.UnsupportedError

	_, err := geotiff.Decode(geotifftest.EncodeHeader(geotifftest.Header{Width: 16384, Height: 8192, ByteCount: 8}))
	require.ErrorAs(t, err, &unsupported)

	data := geotifftest.Encode(geotifftest.Options{Width: 8, Height: 8})
	_, err = geotiff.DecodeLimited(data, 8*8*3-1)
	require.ErrorAs(t, err, &unsupported)

	r, err := geotiff.DecodeLimited(data, 8*8*3)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Bands)
}
