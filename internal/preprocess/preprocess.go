// Package preprocess converts canonical RGB images into the fixed CHW float
// tensor the classifier was trained on.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const channels = 3

// Pipeline is the resize, center-crop and standardization contract of a
// trained model. Values must match the model's evaluation transforms.
type Pipeline struct {
	ResizeSize int
	CropSize   int
	Mean       [channels]float32
	Std        [channels]float32
}

// Default is the ImageNet-style contract used for the EuroSAT ResNet-18.
var Default = Pipeline{
	ResizeSize: 256,
	CropSize:   224,
	Mean:       [channels]float32{0.485, 0.456, 0.406},
	Std:        [channels]float32{0.229, 0.224, 0.225},
}

// Validate rejects pipelines that cannot produce a full crop.
func (p Pipeline) Validate() error {
	var errs []error
	if p.CropSize <= 0 {
		errs = append(errs, fmt.Errorf("crop size must be positive, got %d", p.CropSize))
	}
	if p.ResizeSize < p.CropSize {
		errs = append(errs, fmt.Errorf("resize size %d is smaller than crop size %d", p.ResizeSize, p.CropSize))
	}
	for i, s := range p.Std {
		if s == 0 {
			errs = append(errs, fmt.Errorf("std[%d] must not be zero", i))
		}
	}
	return errors.Join(errs...)
}

// TensorLen is the number of values Normalize returns.
func (p Pipeline) TensorLen() int {
	return channels * p.CropSize * p.CropSize
}

// Shape is the tensor shape with the leading batch axis of one.
func (p Pipeline) Shape() []int64 {
	return []int64{1, channels, int64(p.CropSize), int64(p.CropSize)}
}

// Normalize runs the full pipeline and returns CropSize*CropSize values per
// channel in R, G, B plane order.
func (p Pipeline) Normalize(img image.Image) []float32 {
	cropped := p.CenterCrop(p.ResizeShorter(img))

	n := p.CropSize * p.CropSize
	out := make([]float32, channels*n)
	for y := 0; y < p.CropSize; y++ {
		for x := 0; x < p.CropSize; x++ {
			i := cropped.PixOffset(x, y)
			idx := y*p.CropSize + x
			for c := 0; c < channels; c++ {
				v := float32(cropped.Pix[i+c]) / 255.0
				out[c*n+idx] = (v - p.Mean[c]) / p.Std[c]
			}
		}
	}
	return out
}

// ResizedSize returns the dimensions after scaling the shorter side of a
// w x h image to ResizeSize.
func (p Pipeline) ResizedSize(w, h int) (int, int) {
	if w <= h {
		return p.ResizeSize, p.ResizeSize * h / w
	}
	return p.ResizeSize * w / h, p.ResizeSize
}

// ResizeShorter scales img with bilinear filtering so that its shorter side
// is ResizeSize, preserving aspect ratio.
func (p Pipeline) ResizeShorter(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := p.ResizedSize(b.Dx(), b.Dy())
	if w == b.Dx() && h == b.Dy() {
		return toRGBA(img)
	}
	return toRGBA(resize.Resize(uint(w), uint(h), img, resize.Bilinear))
}

// CenterCrop cuts the central CropSize square. Offsets round half to even.
func (p Pipeline) CenterCrop(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	top := int(math.RoundToEven(float64(b.Dy()-p.CropSize) / 2))
	left := int(math.RoundToEven(float64(b.Dx()-p.CropSize) / 2))

	dst := image.NewRGBA(image.Rect(0, 0, p.CropSize, p.CropSize))
	draw.Draw(dst, dst.Bounds(), img, b.Min.Add(image.Pt(left, top)), draw.Src)
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
