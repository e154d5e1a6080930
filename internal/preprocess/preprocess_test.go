package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x + y) * 2), A: 255})
		}
	}
	return img
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default.Validate())
	assert.Equal(t, 3*224*224, Default.TensorLen())
	assert.Equal(t, []int64{1, 3, 224, 224}, Default.Shape())
}

func TestValidateRejectsBrokenContracts(t *testing.T) {
	p := Default
	p.ResizeSize = 200
	assert.Error(t, p.Validate())

	p = Default
	p.Std[1] = 0
	assert.Error(t, p.Validate())

	p = Default
	p.CropSize = 0
	assert.Error(t, p.Validate())
}

func TestResizedSizePreservesAspect(t *testing.T) {
	cases := []struct {
		w, h, wantW, wantH int
	}{
		{64, 64, 256, 256},
		{64, 32, 512, 256},
		{30, 100, 256, 853},
		{256, 300, 256, 300},
	}
	for _, tc := range cases {
		w, h := Default.ResizedSize(tc.w, tc.h)
		assert.Equal(t, [2]int{tc.wantW, tc.wantH}, [2]int{w, h}, "input %dx%d", tc.w, tc.h)
	}
}

func TestResizeShorterOutputSize(t *testing.T) {
	out := Default.ResizeShorter(gradient(64, 40))
	assert.Equal(t, image.Rect(0, 0, 409, 256), out.Bounds())
}

func TestCenterCropTakesMiddle(t *testing.T) {
	p := Pipeline{ResizeSize: 4, CropSize: 2, Std: [3]float32{1, 1, 1}}
	src := gradient(4, 4)

	crop := p.CenterCrop(src)
	require.Equal(t, image.Rect(0, 0, 2, 2), crop.Bounds())
	assert.Equal(t, src.RGBAAt(1, 1), crop.RGBAAt(0, 0))
	assert.Equal(t, src.RGBAAt(2, 2), crop.RGBAAt(1, 1))
}

func TestCenterCropRoundsHalfToEven(t *testing.T) {
	p := Pipeline{ResizeSize: 2, CropSize: 2, Std: [3]float32{1, 1, 1}}
	// (5-2)/2 = 1.5 rounds to 2, (3-2)/2 = 0.5 rounds to 0.
	src := gradient(5, 3)

	crop := p.CenterCrop(src)
	assert.Equal(t, src.RGBAAt(2, 0), crop.RGBAAt(0, 0))
}

func TestNormalizeSolidColor(t *testing.T) {
	c := color.RGBA{R: 51, G: 102, B: 204, A: 255}
	tensor := Default.Normalize(solid(64, 64, c))
	require.Len(t, tensor, Default.TensorLen())

	n := 224 * 224
	want := [3]float32{
		(51.0/255 - 0.485) / 0.229,
		(102.0/255 - 0.456) / 0.224,
		(204.0/255 - 0.406) / 0.225,
	}
	for ch := 0; ch < 3; ch++ {
		for _, idx := range []int{0, n / 2, n - 1} {
			assert.InDelta(t, want[ch], tensor[ch*n+idx], 1e-5, "channel %d index %d", ch, idx)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	img := gradient(64, 48)
	first := Default.Normalize(img)
	second := Default.Normalize(img)
	assert.Equal(t, first, second)
}

func TestNormalizeHandlesOffsetBounds(t *testing.T) {
	img := gradient(80, 80).SubImage(image.Rect(8, 8, 72, 72))
	tensor := Default.Normalize(img)
	assert.Len(t, tensor, Default.TensorLen())
}
