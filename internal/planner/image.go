package planner

import (
	"bytes"
	"image"
	"image/png"

	"github.com/nfnt/resize"
)

// maxImageWidth bounds the screenshot size sent to the vision model.
const maxImageWidth = 1024

// preparePNG downscales a screenshot so large viewports don't blow up
// request payloads. The original bytes are returned untouched when the
// image is already small enough or cannot be decoded.
func preparePNG(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	if img.Bounds().Dx() <= maxImageWidth {
		return data
	}

	resized := resize.Resize(maxImageWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return data
	}
	return buf.Bytes()
}
