package geotiff

import (
	"fmt"
	"image"
	"math"
)

// Interleaved returns the samples reordered from band-major to
// row/column/band order: out[(y*Width+x)*Bands+b].
func (r *Raster) Interleaved() []float64 {
	n := r.Width * r.Height
	out := make([]float64, n*r.Bands)
	for b, plane := range r.Samples {
		for p, v := range plane {
			out[p*r.Bands+b] = v
		}
	}
	return out
}

// RGB renders three bands as an opaque 8-bit image. Single-band rasters and
// two-band rasters (value plus mask) replicate band 0 into every channel and
// ignore bands. 8-bit unsigned samples are copied as is; every other sample
// type is stretched per band from its min..max onto 0..255.
func (r *Raster) RGB(bands [3]int) (*image.RGBA, error) {
	sel := bands
	if r.Bands < 3 {
		sel = [3]int{0, 0, 0}
	}
	for _, b := range sel {
		if b < 0 || b >= r.Bands {
			return nil, fmt.Errorf("geotiff: band %d out of range for %d-band raster", b, r.Bands)
		}
	}

	var lo, scale [3]float64
	for i, b := range sel {
		lo[i], scale[i] = r.stretch(b)
	}

	hwc := r.Interleaved()
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for p := 0; p < r.Width*r.Height; p++ {
		px := img.Pix[p*4 : p*4+4]
		for i, b := range sel {
			px[i] = r.toByte(hwc[p*r.Bands+b], lo[i], scale[i])
		}
		px[3] = 0xff
	}
	return img, nil
}

func (r *Raster) stretch(band int) (lo, scale float64) {
	if r.Format == FormatUint && r.BitsPerSample == 8 {
		return 0, 1
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range r.Samples[band] {
		if r.isNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) || hi <= lo {
		return 0, 0
	}
	return lo, 255 / (hi - lo)
}

func (r *Raster) toByte(v, lo, scale float64) uint8 {
	if r.isNoData(v) {
		return 0
	}
	x := math.Round((v - lo) * scale)
	switch {
	case x <= 0:
		return 0
	case x >= 255:
		return 255
	}
	return uint8(x)
}

func (r *Raster) isNoData(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return true
	}
	return r.NoData != nil && v == *r.NoData
}
