package export

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/HugoSmits86/nativewebp"
)

// DefaultEncoders 各栅格格式的默认编码器
// WebP 编码器为无损编码，质量参数不生效。
func DefaultEncoders() map[Format]Encoder {
	return map[Format]Encoder{
		PNG: EncoderFunc(func(w io.Writer, img image.Image, _ float64) error {
			return png.Encode(w, img)
		}),
		JPEG: EncoderFunc(func(w io.Writer, img image.Image, q float64) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality(q)})
		}),
		WebP: EncoderFunc(func(w io.Writer, img image.Image, _ float64) error {
			return nativewebp.Encode(w, img, nil)
		}),
	}
}

// jpegQuality 0..1 → 1..100
func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
