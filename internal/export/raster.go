package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrNoContext     = errors.New("export: canvas context unavailable")
	ErrDecode        = errors.New("export: image decode failed")
	ErrEmptyEncoding = errors.New("export: encoder produced no data")
	ErrNoEncoder     = errors.New("export: no encoder for format")
)

// 单张画布像素上限（约 2.68 亿像素），超过视为无法分配绘图上下文
const maxCanvasPixels = 1 << 28

// Rasterizer 离屏栅格化能力：把 SVG 标记解码为 w×h 像素图
type Rasterizer interface {
	Decode(ctx context.Context, markup []byte, w, h int) (image.Image, error)
}

// Encoder 像素图 → 文件字节；quality 取值 0..1，不支持质量的格式忽略
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality float64) error
}

// EncoderFunc 函数适配 Encoder
type EncoderFunc func(w io.Writer, img image.Image, quality float64) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image, quality float64) error {
	return f(w, img, quality)
}

// SVGRasterizer 基于 oksvg + rasterx 的纯 Go 栅格化
// 约束：只认表现属性与内联 style，不解析 <style> 样式表，故导出前应内联计算样式。
type SVGRasterizer struct{}

func (SVGRasterizer) Decode(ctx context.Context, markup []byte, w, h int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)
	return rgba, nil
}

// newCanvas 分配并清空画布
func newCanvas(t CanvasTarget) (draw.Image, error) {
	if t.Width <= 0 || t.Height <= 0 || t.Width*t.Height > maxCanvasPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrNoContext, t.Width, t.Height)
	}
	c := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	draw.Draw(c, c.Bounds(), image.Transparent, image.Point{}, draw.Src)
	return c, nil
}

// fillBackground 整幅铺底色
func fillBackground(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// drawScaled 把已解码图像按画布尺寸叠加绘制
func drawScaled(dst draw.Image, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
}

// ParseColor 解析 CSS/SVG 颜色；空串或无法解析时返回白色与 false
func ParseColor(s string) (color.Color, bool) {
	if s == "" {
		return color.White, false
	}
	c, err := oksvg.ParseSVGColor(s)
	if err != nil || c == nil {
		return color.White, false
	}
	return c, true
}

type loadResult struct {
	img image.Image
	err error
}

// loadImage 单次加载：临时对象 URL 承载标记，后台解码恰好产出一个结果；
// 收到结果或 ctx 结束时撤销 URL（只撤销一次），不重试。
func (e *Exporter) loadImage(ctx context.Context, markup []byte, t CanvasTarget) (image.Image, error) {
	reg := e.registry()
	url := reg.CreateObjectURL(blobOf(SVG, markup))
	var once sync.Once
	release := func() { once.Do(func() { reg.Revoke(url) }) }
	defer release()

	done := make(chan loadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- loadResult{err: fmt.Errorf("%w: %v", ErrDecode, r)}
			}
		}()
		blob, err := reg.Open(url)
		if err != nil {
			done <- loadResult{err: err}
			return
		}
		img, err := e.rasterizer().Decode(ctx, blob.Data, t.Width, t.Height)
		if err == nil && img == nil {
			err = ErrDecode
		}
		done <- loadResult{img: img, err: err}
	}()

	select {
	case res := <-done:
		release()
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
