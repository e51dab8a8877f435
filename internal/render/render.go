// 包 render：将要素集合按投影绘制为带样式表的活动 SVG 场景
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"map-export/internal/geometry"
	"map-export/internal/projection"
	"map-export/internal/scene"

	svg "github.com/ajstarks/svgo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrNoProjection  = errors.New("render: projection is required")
	ErrGraticuleStep = errors.New("render: graticule step out of range")
)

// MinGraticuleStep 经纬网最小间隔（度）
const MinGraticuleStep = 1.0

// CheckGraticuleStep 0 表示不绘制经纬网；其余取值须为有限值且不小于 MinGraticuleStep
func CheckGraticuleStep(step float64) error {
	if step == 0 {
		return nil
	}
	if math.IsNaN(step) || math.IsInf(step, 0) || step < MinGraticuleStep {
		return fmt.Errorf("%w: %v (min %v)", ErrGraticuleStep, step, MinGraticuleStep)
	}
	return nil
}

// DefaultStylesheet 底图默认样式；导出时由计算样式内联到各元素
const DefaultStylesheet = `
.background-rect { fill: #eef3f8 }
.country { fill: #d9e4cf; stroke: #5a6b55; stroke-width: 0.5; vector-effect: non-scaling-stroke }
.country.highlighted { fill: #f2c14e }
.graticule { fill: none; stroke: #9aa8b8; stroke-width: 0.3; stroke-opacity: 0.7 }
.marker { fill: #d7263d; stroke: #ffffff; stroke-width: 1 }
text.label { fill: #1d2b36; font-family: sans-serif; font-size: 11px; text-anchor: middle }
`

// Marker 地图标注点
type Marker struct {
	Label string
	Point orb.Point
}

// Options 绘制参数
// 约束：Projection 必填；GraticuleStep 为 0 时不绘制经纬网；
// MarkersOverlay 为 true 时标注层带导出忽略标记，只在页面显示。
type Options struct {
	Projection     *projection.Projection
	GraticuleStep  float64
	Markers        []Marker
	MarkersOverlay bool
	Highlight      string
	Stylesheet     string
}

// Map 写出 SVG 标记：背景矩形 → 国家组 → 经纬网 → 标注
func Map(w io.Writer, fc *geojson.FeatureCollection, opt Options) error {
	p := opt.Projection
	if p == nil {
		return ErrNoProjection
	}
	d := p.Descriptor()
	width, height := int(math.Round(d.Width)), int(math.Round(d.Height))
	css := opt.Stylesheet
	if css == "" {
		css = DefaultStylesheet
	}

	canvas := svg.New(w)
	canvas.Start(width, height)
	canvas.Style("text/css", css)
	canvas.Rect(0, 0, width, height, `class="background-rect"`, `data-role="background"`)

	canvas.Gid("countries")
	if fc != nil {
		for _, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			dpath := PathData(p, f.Geometry)
			if dpath == "" {
				continue
			}
			iso := geometry.ISOCode(f)
			class := "country"
			if opt.Highlight != "" && iso == opt.Highlight {
				class += " highlighted"
			}
			attrs := []string{`class="` + class + `"`}
			if iso != "" {
				attrs = append(attrs, `data-iso="`+attrEscape(iso)+`"`)
			}
			canvas.Path(dpath, attrs...)
		}
	}
	canvas.Gend()

	if opt.GraticuleStep > 0 {
		canvas.Group(`id="graticule"`)
		for _, line := range Graticule(opt.GraticuleStep) {
			if dpath := PathData(p, line); dpath != "" {
				canvas.Path(dpath, `class="graticule"`)
			}
		}
		canvas.Gend()
	}

	if len(opt.Markers) > 0 {
		attrs := []string{`id="markers"`}
		if opt.MarkersOverlay {
			attrs = append(attrs, `data-export-ignore="true"`)
		}
		canvas.Group(attrs...)
		for _, m := range opt.Markers {
			px, ok := p.Forward(m.Point)
			if !ok {
				continue
			}
			x, y := int(math.Round(px[0])), int(math.Round(px[1]))
			canvas.Circle(x, y, 4, `class="marker"`)
			if m.Label != "" {
				canvas.Text(x, y-8, m.Label, `class="label"`)
			}
		}
		canvas.Gend()
	}
	canvas.End()
	return nil
}

// Scene 绘制并解析为活动场景；客户区尺寸取视口尺寸
func Scene(fc *geojson.FeatureCollection, opt Options) (*scene.Scene, error) {
	var buf bytes.Buffer
	if err := Map(&buf, fc, opt); err != nil {
		return nil, err
	}
	sc, err := scene.Parse(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("render scene: %w", err)
	}
	d := opt.Projection.Descriptor()
	sc.ClientWidth, sc.ClientHeight = d.Width, d.Height
	return sc, nil
}

// PathData 几何 → path d 属性
// 约束：无法前向投影的点（如正射投影背面）打断当前子路径；只有整环可见时才闭合。
func PathData(p *projection.Projection, g orb.Geometry) string {
	var b strings.Builder
	switch gg := g.(type) {
	case orb.Polygon:
		writePolygon(&b, p, gg)
	case orb.MultiPolygon:
		for _, poly := range gg {
			writePolygon(&b, p, poly)
		}
	case orb.LineString:
		writeLine(&b, p, gg, false)
	case orb.MultiLineString:
		for _, ls := range gg {
			writeLine(&b, p, ls, false)
		}
	}
	return b.String()
}

func writePolygon(b *strings.Builder, p *projection.Projection, poly orb.Polygon) {
	for _, ring := range poly {
		writeLine(b, p, orb.LineString(ring), true)
	}
}

func writeLine(b *strings.Builder, p *projection.Projection, pts orb.LineString, closed bool) {
	pen := false
	whole := true
	n := 0
	for _, pt := range pts {
		px, ok := p.Forward(pt)
		if !ok {
			pen = false
			whole = false
			continue
		}
		if pen {
			b.WriteByte('L')
		} else {
			b.WriteByte('M')
			pen = true
		}
		b.WriteString(coord(px[0]))
		b.WriteByte(',')
		b.WriteString(coord(px[1]))
		n++
	}
	if closed && whole && n > 0 {
		b.WriteByte('Z')
	}
}

// Graticule 经纬网：每 step 度一条经线与纬线，线上按 2 度采样以保留投影弯曲
// step 小于 MinGraticuleStep 或非有限值时不生成任何线。
func Graticule(step float64) orb.MultiLineString {
	if !(step >= MinGraticuleStep) || math.IsInf(step, 0) {
		return nil
	}
	const sample = 2.0
	var out orb.MultiLineString
	for lon := -180.0; lon <= 180; lon += step {
		var ls orb.LineString
		for lat := -90.0; lat <= 90; lat += sample {
			ls = append(ls, orb.Point{lon, lat})
		}
		out = append(out, ls)
	}
	for lat := -90 + step; lat < 90; lat += step {
		var ls orb.LineString
		for lon := -180.0; lon <= 180; lon += sample {
			ls = append(ls, orb.Point{lon, lat})
		}
		out = append(out, ls)
	}
	return out
}

func coord(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

var attrReplacer = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `"`, "&quot;")

func attrEscape(s string) string { return attrReplacer.Replace(s) }
