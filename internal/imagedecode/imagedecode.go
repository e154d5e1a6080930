// Package imagedecode turns uploaded bytes into a canonical opaque RGB image.
// Consumer formats are tried first; multi-band geospatial rasters are the
// fallback because the two families share no common binary layout. TIFFs
// the consumer decoder accepts are still handed to the geospatial reader
// when they carry georeferencing or samples wider than 8 bits, so band
// selection and contrast stretch apply to them.
package imagedecode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/landcovernet/internal/geotiff"
)

// Source names the decoder tier that produced an image.
type Source string

// Decoder tiers.
const (
	SourceStandard   Source = "standard"
	SourceGeospatial Source = "geospatial"
)

var errEmpty = errors.New("empty upload")

// UnreadableImageError is returned when neither decoder tier accepts the
// bytes. It carries both underlying failures.
type UnreadableImageError struct {
	MIME       string
	Standard   error
	Geospatial error
}

func (e *UnreadableImageError) Error() string {
	return fmt.Sprintf("unreadable image (detected %s): standard decoder: %v; geospatial decoder: %v",
		e.MIME, e.Standard, e.Geospatial)
}

// Unwrap exposes both tier failures to errors.Is and errors.As.
func (e *UnreadableImageError) Unwrap() []error {
	return []error{e.Standard, e.Geospatial}
}

// Result is a decoded canonical image plus what is known about its origin.
type Result struct {
	Image  *image.RGBA
	Source Source
	// Format is the codec name reported by the decoder, e.g. "jpeg" or "geotiff".
	Format string
	MIME   string
	// Bands is the band count of geospatial sources, 0 otherwise.
	Bands int
	Geo   *geotiff.GeoInfo
}

// Decoder holds the band selection applied to multi-band rasters.
type Decoder struct {
	bands      [3]int
	maxSamples int
}

// New returns a Decoder that renders the given raster bands as R, G and B.
func New(rgbBands [3]int) *Decoder {
	return &Decoder{bands: rgbBands, maxSamples: geotiff.DefaultMaxSamples}
}

// WithSampleLimit caps the pixels of consumer images and the samples of
// geospatial rasters the decoder will allocate. n <= 0 keeps the default.
func (d *Decoder) WithSampleLimit(n int) *Decoder {
	if n > 0 {
		d.maxSamples = n
	}
	return d
}

// Decode returns the canonical image for data, or *UnreadableImageError.
func (d *Decoder) Decode(data []byte) (*Result, error) {
	mime := mimetype.Detect(data).String()
	if len(data) == 0 {
		return nil, &UnreadableImageError{MIME: mime, Standard: errEmpty, Geospatial: errEmpty}
	}

	img, format, stdErr := d.decodeStandard(data)
	if stdErr == nil && format != "tiff" {
		return &Result{Image: toRGB(img), Source: SourceStandard, Format: format, MIME: mime}, nil
	}

	raster, geoErr := geotiff.DecodeLimited(data, d.maxSamples)
	if geoErr == nil && (stdErr != nil || needsBandRendering(raster)) {
		rgb, err := raster.RGB(d.bands)
		if err == nil {
			return &Result{
				Image:  rgb,
				Source: SourceGeospatial,
				Format: "geotiff",
				MIME:   mime,
				Bands:  raster.Bands,
				Geo:    raster.Geo,
			}, nil
		}
		geoErr = err
	}
	if stdErr == nil {
		return &Result{Image: toRGB(img), Source: SourceStandard, Format: format, MIME: mime}, nil
	}

	return nil, &UnreadableImageError{MIME: mime, Standard: stdErr, Geospatial: geoErr}
}

// decodeStandard runs the registered image codecs after checking the
// declared dimensions against the sample limit.
func (d *Decoder) decodeStandard(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if uint64(cfg.Width)*uint64(cfg.Height) > uint64(d.maxSamples) {
		return nil, "", fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}
	return image.Decode(bytes.NewReader(data))
}

// needsBandRendering reports whether a TIFF the consumer decoder can read
// would lose information there: georeferenced rasters get the configured
// band selection, and wide or signed samples need a stretch instead of a
// plain shift to 8 bits.
func needsBandRendering(r *geotiff.Raster) bool {
	return r.Geo != nil || r.BitsPerSample > 8 || r.Format != geotiff.FormatUint
}

// toRGB copies src into an opaque RGBA image anchored at the origin. Alpha is
// dropped, not composited.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}
