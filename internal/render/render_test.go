package render

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"map-export/internal/projection"
	"map-export/internal/scene"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func testCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	sq := geojson.NewFeature(orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}})
	sq.Properties["ISO_A3"] = "SQR"
	fc.Append(sq)
	multi := geojson.NewFeature(orb.MultiPolygon{
		{{{-50, -10}, {-40, -10}, {-40, 0}, {-50, 0}, {-50, -10}}},
		{{{-30, -10}, {-20, -10}, {-20, 0}, {-30, 0}, {-30, -10}}},
	})
	multi.Properties["ISO_A2"] = "MU"
	fc.Append(multi)
	fc.Append(&geojson.Feature{Type: "Feature", Properties: geojson.Properties{"ISO_A3": "NUL"}})
	return fc
}

func testProjection(t *testing.T, fam projection.Family) *projection.Projection {
	t.Helper()
	p, err := projection.Build(projection.Descriptor{Family: fam, Width: 800, Height: 400, ScaleDivisor: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func TestSceneStructure(t *testing.T) {
	sc, err := Scene(testCollection(), Options{
		Projection:    testProjection(t, projection.Equirectangular),
		GraticuleStep: 30,
		Markers:       []Marker{{Label: "Origin", Point: orb.Point{0, 0}}},
		Highlight:     "SQR",
	})
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if sc.ClientWidth != 800 || sc.ClientHeight != 400 {
		t.Errorf("client size = %vx%v", sc.ClientWidth, sc.ClientHeight)
	}
	root := sc.Root()
	if root.SelectAttrValue("width", "") != "800" || root.SelectAttrValue("height", "") != "400" {
		t.Errorf("root size attrs = %q x %q", root.SelectAttrValue("width", ""), root.SelectAttrValue("height", ""))
	}
	bg := sc.Doc.FindElement("//rect")
	if bg == nil || !scene.IsIgnored(bg) {
		t.Errorf("background rect should carry an export marker")
	}
	paths := sc.Doc.FindElements("//g[@id='countries']/path")
	if len(paths) != 2 {
		t.Fatalf("country paths = %d, want 2", len(paths))
	}
	if got := paths[0].SelectAttrValue("data-iso", ""); got != "SQR" {
		t.Errorf("data-iso = %q", got)
	}
	if got := paths[0].SelectAttrValue("class", ""); got != "country highlighted" {
		t.Errorf("class = %q", got)
	}
	if d := paths[1].SelectAttrValue("d", ""); strings.Count(d, "M") != 2 || strings.Count(d, "Z") != 2 {
		t.Errorf("multipolygon path should have two closed subpaths, got %q", d)
	}
	if n := len(sc.Doc.FindElements("//g[@id='graticule']/path")); n == 0 {
		t.Errorf("graticule missing")
	}
	if sc.Doc.FindElement("//circle[@class='marker']") == nil {
		t.Errorf("marker missing")
	}
}

func TestComputedStylesFromStylesheet(t *testing.T) {
	sc, err := Scene(testCollection(), Options{Projection: testProjection(t, projection.Mercator), Highlight: "MU"})
	if err != nil {
		t.Fatal(err)
	}
	paths := sc.Doc.FindElements("//path")
	st, err := sc.Styles.ComputedStyle(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if st["fill"] != "#d9e4cf" || st["vector-effect"] != "non-scaling-stroke" {
		t.Errorf("plain country style = %v", st)
	}
	st, _ = sc.Styles.ComputedStyle(paths[1])
	if st["fill"] != "#f2c14e" {
		t.Errorf("highlighted fill = %q", st["fill"])
	}
}

func TestMarkersOverlayRemovedFromExport(t *testing.T) {
	sc, err := Scene(nil, Options{
		Projection:     testProjection(t, projection.Mercator),
		Markers:        []Marker{{Label: "A", Point: orb.Point{1, 1}}},
		MarkersOverlay: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := scene.PrepareClone(sc, true)
	if doc.FindElement("//circle") != nil || doc.FindElement("//rect") != nil {
		t.Errorf("overlay markers or background survived export")
	}
	if doc.FindElement("//g[@id='countries']") == nil {
		t.Errorf("countries group should survive export")
	}
}

func TestPathDataBreaksOnInvisiblePoints(t *testing.T) {
	p := testProjection(t, projection.Orthographic)
	// 跨越可见半球边界的环：背面的点断开子路径且不闭合
	ring := orb.Polygon{{{0, 0}, {60, 0}, {150, 0}, {170, 10}, {60, 10}, {0, 0}}}
	d := PathData(p, ring)
	if strings.Contains(d, "Z") {
		t.Errorf("partially visible ring must not be closed: %q", d)
	}
	if strings.Count(d, "M") != 2 {
		t.Errorf("expected two subpaths, got %q", d)
	}
	if got := PathData(p, orb.Point{1, 2}); got != "" {
		t.Errorf("points have no path data, got %q", got)
	}
}

func TestMapRequiresProjection(t *testing.T) {
	var buf bytes.Buffer
	if err := Map(&buf, nil, Options{}); err != ErrNoProjection {
		t.Errorf("err = %v, want ErrNoProjection", err)
	}
}

func TestGraticule(t *testing.T) {
	g := Graticule(90)
	// 经线 -180,-90,0,90,180；纬线 0
	if len(g) != 6 {
		t.Errorf("lines = %d, want 6", len(g))
	}
	if Graticule(0) != nil {
		t.Errorf("zero step should yield no lines")
	}
	for _, step := range []float64{1e-15, 0.001, 0.5, -10, math.NaN(), math.Inf(1)} {
		if g := Graticule(step); g != nil {
			t.Errorf("Graticule(%v) = %d lines, want none", step, len(g))
		}
	}
	if g := Graticule(MinGraticuleStep); len(g) != 361+179 {
		t.Errorf("Graticule(%v) = %d lines, want %d", MinGraticuleStep, len(g), 361+179)
	}
}

func TestCheckGraticuleStep(t *testing.T) {
	for _, step := range []float64{0, 1, 15, 90, 400} {
		if err := CheckGraticuleStep(step); err != nil {
			t.Errorf("CheckGraticuleStep(%v) = %v", step, err)
		}
	}
	for _, step := range []float64{1e-15, 0.999, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := CheckGraticuleStep(step); !errors.Is(err, ErrGraticuleStep) {
			t.Errorf("CheckGraticuleStep(%v) = %v, want ErrGraticuleStep", step, err)
		}
	}
}
