package planner

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x % 256), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreparePNGKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 640, 480)
	assert.Equal(t, data, preparePNG(data))
}

func TestPreparePNGDownscalesWideImages(t *testing.T) {
	data := encodePNG(t, maxImageWidth*2, 600)
	out := preparePNG(data)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, maxImageWidth, img.Bounds().Dx())
	// Aspect ratio preserved.
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestPreparePNGPassesThroughGarbage(t *testing.T) {
	data := []byte("not a png")
	assert.Equal(t, data, preparePNG(data))
}
