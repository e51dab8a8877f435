package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"map-export/internal/download"
	"map-export/internal/scene"

	"github.com/google/go-cmp/cmp"
)

type memSink struct {
	mu    sync.Mutex
	files map[string]download.Blob
}

func (m *memSink) Save(name string, b download.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string]download.Blob{}
	}
	m.files[name] = b
	return nil
}

// halfRasterizer 左半不透明红色，右半透明；记录请求的像素尺寸
type halfRasterizer struct {
	w, h int
	err  error
}

func (r *halfRasterizer) Decode(_ context.Context, markup []byte, w, h int) (image.Image, error) {
	r.w, r.h = w, h
	if r.err != nil {
		return nil, r.err
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return img, nil
}

// captureEncoder 记录交给编码器的画布
type captureEncoder struct {
	img  image.Image
	out  []byte
	qual float64
}

func (c *captureEncoder) Encode(w io.Writer, img image.Image, q float64) error {
	c.img, c.qual = img, q
	_, err := w.Write(c.out)
	return err
}

func newTestExporter(r Rasterizer, enc *captureEncoder) (*Exporter, *memSink) {
	sink := &memSink{}
	e := New(sink)
	e.Rasterizer = r
	if enc != nil {
		e.Encoders = map[Format]Encoder{PNG: enc, JPEG: enc, WebP: enc}
	}
	return e, sink
}

func mustScene(t *testing.T, s string) *scene.Scene {
	t.Helper()
	sc, err := scene.Parse([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name       string
		w, h, dpr  float64
		scale, max int
		want       CanvasTarget
		capped     bool
	}{
		{"Identity", 800, 400, 1, 1, 8192, CanvasTarget{800, 400}, false},
		{"Pixel Ratio And Scale", 800, 400, 2, 3, 8192, CanvasTarget{4800, 2400}, false},
		{"Capped Square", 5000, 5000, 1, 1, 1000, CanvasTarget{1000, 1000}, true},
		{"Capped Keeps Aspect", 4000, 1000, 1, 3, 8192, CanvasTarget{8192, 2048}, true},
		{"Rounds", 100.4, 50.6, 1.5, 1, 8192, CanvasTarget{151, 76}, false},
		{"Never Zero", 1, 1, 0.1, 1, 8192, CanvasTarget{1, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, capped := Target(tt.w, tt.h, tt.dpr, tt.scale, tt.max)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Target() mismatch (-want +got):\n%s", diff)
			}
			if capped != tt.capped {
				t.Errorf("capped = %v, want %v", capped, tt.capped)
			}
		})
	}
}

func TestIntrinsicSize(t *testing.T) {
	tests := []struct {
		name   string
		svg    string
		cw, ch float64
		w, h   float64
	}{
		{"ViewBox", `<svg viewBox="0 0 300 150" width="10" height="10"/>`, 0, 0, 300, 150},
		{"Attributes", `<svg width="640" height="480"/>`, 0, 0, 640, 480},
		{"Client", `<svg/>`, 320, 240, 320, 240},
		{"Fallback", `<svg/>`, 0, 0, 1200, 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := mustScene(t, tt.svg)
			w, h := IntrinsicSize(sc.Doc, tt.cw, tt.ch)
			if w != tt.w || h != tt.h {
				t.Errorf("IntrinsicSize() = %vx%v, want %vx%v", w, h, tt.w, tt.h)
			}
		})
	}
	if w, h := IntrinsicSize(nil, 0, 0); w != 1200 || h != 800 {
		t.Errorf("nil clone = %vx%v", w, h)
	}
}

func TestExportRasterCapsLargeScene(t *testing.T) {
	r := &halfRasterizer{}
	enc := &captureEncoder{out: []byte("png")}
	e, sink := newTestExporter(r, enc)
	req := NewRequest(PNG)
	req.MaxDimension = 1000
	rep := e.ExportRaster(context.Background(), mustScene(t, `<svg viewBox="0 0 5000 5000"><rect width="5" height="5"/></svg>`), req)
	if rep.Err != nil {
		t.Fatalf("Report.Err = %v", rep.Err)
	}
	if !rep.Capped || rep.Target != (CanvasTarget{1000, 1000}) {
		t.Errorf("report = %+v", rep)
	}
	if r.w != 1000 || r.h != 1000 {
		t.Errorf("decode size = %dx%d", r.w, r.h)
	}
	if b := enc.img.Bounds(); b.Dx() != 1000 || b.Dy() != 1000 {
		t.Errorf("canvas = %v", b)
	}
	if _, ok := sink.files["map@1x.png"]; !ok {
		t.Errorf("saved files = %v", sink.files)
	}
}

func TestJPEGFillsBackgroundBeforeDraw(t *testing.T) {
	enc := &captureEncoder{out: []byte("jpg")}
	e, sink := newTestExporter(&halfRasterizer{}, enc)
	req := NewRequest(JPEG)
	req.Scale = 2
	rep := e.ExportRaster(context.Background(), mustScene(t, `<svg width="20" height="10"/>`), req)
	if rep.Err != nil || !rep.Saved {
		t.Fatalf("report = %+v", rep)
	}
	if got := rgbaAt(enc.img, 35, 5); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("transparent area = %v, want opaque white", got)
	}
	if got := rgbaAt(enc.img, 5, 5); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("drawn area = %v, want red over background", got)
	}
	if enc.qual != DefaultQuality {
		t.Errorf("quality = %v", enc.qual)
	}
	b := sink.files["map@2x.jpeg"]
	if b.Type != "image/jpeg" || string(b.Data) != "jpg" {
		t.Errorf("saved blob = %+v", b)
	}
}

func TestPNGBackgroundOnlyWhenRequested(t *testing.T) {
	enc := &captureEncoder{out: []byte("png")}
	e, _ := newTestExporter(&halfRasterizer{}, enc)
	sc := mustScene(t, `<svg width="20" height="10"/>`)

	e.ExportRaster(context.Background(), sc, NewRequest(PNG))
	if got := rgbaAt(enc.img, 15, 5); got.A != 0 {
		t.Errorf("png without background should stay transparent, got %v", got)
	}

	req := NewRequest(WebP)
	req.BackgroundColor = "#000080"
	e.ExportRaster(context.Background(), sc, req)
	if got := rgbaAt(enc.img, 15, 5); got != (color.RGBA{0, 0, 128, 255}) {
		t.Errorf("explicit background = %v", got)
	}
}

func TestExportRasterFailuresAreReported(t *testing.T) {
	sc := mustScene(t, `<svg width="4" height="4"/>`)
	boom := errors.New("bad markup")

	t.Run("Decode", func(t *testing.T) {
		e, sink := newTestExporter(&halfRasterizer{err: boom}, &captureEncoder{out: []byte("x")})
		rep := e.ExportRaster(context.Background(), sc, NewRequest(PNG))
		if !errors.Is(rep.Err, boom) || rep.Stage != "decode" || rep.Saved {
			t.Errorf("report = %+v", rep)
		}
		if len(sink.files) != 0 {
			t.Errorf("nothing should be downloaded")
		}
		created, revoked := e.Registry.Counts()
		if created != 1 || revoked != 1 || e.Registry.Live() != 0 {
			t.Errorf("object urls created=%d revoked=%d live=%d", created, revoked, e.Registry.Live())
		}
	})
	t.Run("Empty Encoding", func(t *testing.T) {
		e, _ := newTestExporter(&halfRasterizer{}, &captureEncoder{})
		rep := e.ExportRaster(context.Background(), sc, NewRequest(PNG))
		if !errors.Is(rep.Err, ErrEmptyEncoding) || rep.Stage != "encode" {
			t.Errorf("report = %+v", rep)
		}
	})
	t.Run("No Context", func(t *testing.T) {
		e, _ := newTestExporter(&halfRasterizer{}, &captureEncoder{out: []byte("x")})
		req := NewRequest(PNG)
		req.MaxDimension = 1 << 20
		rep := e.ExportRaster(context.Background(), mustScene(t, `<svg width="100000" height="100000"/>`), req)
		if !errors.Is(rep.Err, ErrNoContext) || rep.Stage != "context" {
			t.Errorf("report = %+v", rep)
		}
	})
	t.Run("Cancelled", func(t *testing.T) {
		e, _ := newTestExporter(blockingRasterizer{}, &captureEncoder{out: []byte("x")})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rep := e.ExportRaster(ctx, sc, NewRequest(PNG))
		if !errors.Is(rep.Err, context.Canceled) {
			t.Errorf("report = %+v", rep)
		}
		if e.Registry.Live() != 0 {
			t.Errorf("object url leaked")
		}
	})
	t.Run("Vector Format", func(t *testing.T) {
		e, _ := newTestExporter(&halfRasterizer{}, nil)
		rep := e.ExportRaster(context.Background(), sc, NewRequest(SVG))
		if !errors.Is(rep.Err, ErrUnknownFormat) {
			t.Errorf("report = %+v", rep)
		}
	})
}

type blockingRasterizer struct{}

func (blockingRasterizer) Decode(ctx context.Context, _ []byte, _, _ int) (image.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNilSceneIsNoop(t *testing.T) {
	e, sink := newTestExporter(&halfRasterizer{}, nil)
	if rep := e.ExportRaster(context.Background(), nil, NewRequest(PNG)); !rep.Skipped || rep.Err != nil {
		t.Errorf("raster report = %+v", rep)
	}
	if err := e.ExportVector(context.Background(), nil, "map.svg", true); err != nil {
		t.Errorf("ExportVector(nil) = %v", err)
	}
	if rep := e.Export(context.Background(), &scene.Scene{}, NewRequest(SVG)); !rep.Skipped {
		t.Errorf("vector report = %+v", rep)
	}
	if len(sink.files) != 0 {
		t.Errorf("files = %v", sink.files)
	}
}

const liveMap = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="100">
  <style>.country { fill: #abc; stroke: #333 }</style>
  <rect class="background-rect" width="200" height="100"/>
  <g id="countries">
    <path class="country" data-iso="AAA" d="M0 0L10 0L10 10Z"/>
    <path class="country" data-iso="BBB" d="M20 0L30 0L30 10Z"/>
  </g>
  <g data-export-ignore="true"><circle r="2"/><text>tip</text></g>
</svg>`

func TestExportVectorRoundTrip(t *testing.T) {
	e, sink := newTestExporter(nil, nil)
	live := mustScene(t, liveMap)
	if err := e.ExportVector(context.Background(), live, "", true); err != nil {
		t.Fatal(err)
	}
	b, ok := sink.files["map.svg"]
	if !ok || b.Type != "image/svg+xml" {
		t.Fatalf("saved = %v", sink.files)
	}
	back, err := scene.Parse(b.Data)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	// 背景矩形 1 个，忽略组及其 2 个子元素
	if got, want := scene.CountElements(back.Root()), scene.CountElements(live.Root())-4; got != want {
		t.Errorf("element count = %d, want %d", got, want)
	}
	if vb := back.Root().SelectAttrValue("viewBox", ""); vb != "0 0 200 100" {
		t.Errorf("viewBox = %q", vb)
	}
	if !strings.Contains(string(b.Data), `style="fill:#abc;stroke:#333;"`) {
		t.Errorf("computed styles not inlined:\n%s", b.Data)
	}
	if e.Registry.Live() != 0 {
		t.Errorf("object url leaked")
	}
}

func TestSVGRasterizerEndToEnd(t *testing.T) {
	e, sink := newTestExporter(SVGRasterizer{}, nil)
	e.Encoders = DefaultEncoders()
	live := mustScene(t, `<svg width="20" height="20"><style>.sq { fill: #00ff00 }</style><rect class="sq" x="0" y="0" width="20" height="10"/></svg>`)
	rep := e.Export(context.Background(), live, NewRequest(PNG))
	if rep.Err != nil {
		t.Fatalf("Report.Err = %v", rep.Err)
	}
	img, err := png.Decode(bytes.NewReader(sink.files["map@1x.png"].Data))
	if err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(img, 10, 4); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("inlined class fill = %v, want green", got)
	}
	if got := rgbaAt(img, 10, 16); got.A != 0 {
		t.Errorf("uncovered area = %v, want transparent", got)
	}
}

func TestRequestDefaults(t *testing.T) {
	r := Request{Format: WebP, Scale: 3, Quality: 4}
	r.Normalize()
	want := Request{Format: WebP, Filename: "map@3x.webp", Scale: 3, MaxDimension: 8192, Quality: 0.92, DevicePixelRatio: 1}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	if got := DefaultFilename(SVG, 4); got != "map.svg" {
		t.Errorf("DefaultFilename(svg) = %q", got)
	}
	if !NewRequest(PNG).InlineStyles {
		t.Errorf("NewRequest should inline styles")
	}
	if got := NewRequest(JPEG).Quality; got != DefaultQuality {
		t.Errorf("NewRequest quality = %v, want %v", got, DefaultQuality)
	}
}

func TestNormalizeKeepsExplicitQuality(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0}, {0.3, 0.3}, {1, 1},
		{-0.1, DefaultQuality}, {1.01, DefaultQuality}, {math.NaN(), DefaultQuality},
	}
	for _, tt := range tests {
		r := Request{Format: JPEG, Quality: tt.in}
		r.Normalize()
		if r.Quality != tt.want {
			t.Errorf("Normalize(quality=%v) = %v, want %v", tt.in, r.Quality, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"SVG": SVG, "png": PNG, "jpg": JPEG, "JPEG": JPEG, " webp ": WebP} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v", err)
	}
}

func TestJPEGQuality(t *testing.T) {
	for q, want := range map[float64]int{0.92: 92, 0: 1, 1: 100, 1.5: 100} {
		if got := jpegQuality(q); got != want {
			t.Errorf("jpegQuality(%v) = %d, want %d", q, got, want)
		}
	}
}

func TestParseColor(t *testing.T) {
	if c, ok := ParseColor("#ff0000"); !ok || rgbaOf(c) != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("ParseColor(#ff0000) = %v, %v", c, ok)
	}
	if c, ok := ParseColor(""); ok || c != color.White {
		t.Errorf("empty color should default to white")
	}
}

func rgbaOf(c color.Color) color.RGBA { return color.RGBAModel.Convert(c).(color.RGBA) }
