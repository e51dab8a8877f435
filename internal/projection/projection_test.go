package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestBuildScaleAndTranslate(t *testing.T) {
	p, err := Build(Descriptor{Family: Mercator, Width: 800, Height: 400, ScaleDivisor: 2, Zoom: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := p.Translate(); got != (orb.Point{400, 200}) {
		t.Errorf("Translate() = %v, want [400 200]", got)
	}
	if got := p.Scale(); got != 400 {
		t.Errorf("Scale() = %v, want 400", got)
	}
}

func TestZoomDefaultsToOne(t *testing.T) {
	p, err := Build(Descriptor{Family: Equirectangular, Width: 600, Height: 300, ScaleDivisor: 3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Descriptor().Zoom != 1 {
		t.Errorf("Zoom = %v, want 1", p.Descriptor().Zoom)
	}
	if p.Scale() != 100 {
		t.Errorf("Scale() = %v, want 100", p.Scale())
	}
}

func TestScaleIncreasesWithZoom(t *testing.T) {
	prev := 0.0
	for _, z := range []float64{0.5, 1, 1.5, 2, 4, 8, 16} {
		p, err := Build(Descriptor{Family: NaturalEarth1, Width: 1024, Height: 768, ScaleDivisor: 6.3, Zoom: z, Center: orb.Point{12, 40}})
		if err != nil {
			t.Fatalf("Build zoom=%v: %v", z, err)
		}
		if p.Scale() <= prev {
			t.Errorf("scale not increasing at zoom %v: %v <= %v", z, p.Scale(), prev)
		}
		prev = p.Scale()
		if p.Translate() != (orb.Point{512, 384}) {
			t.Errorf("Translate() at zoom %v = %v", z, p.Translate())
		}
	}
}

func TestCenterProjectsToTranslate(t *testing.T) {
	for _, f := range []Family{Mercator, NaturalEarth1, Equirectangular, Orthographic} {
		c := orb.Point{-3.7, 40.4}
		p, err := Build(Descriptor{Family: f, Width: 900, Height: 500, ScaleDivisor: 2, Zoom: 3, Center: c})
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		got, ok := p.Forward(c)
		if !ok {
			t.Fatalf("%s: Forward(center) undefined", f)
		}
		if !near(got[0], 450, 1e-6) || !near(got[1], 250, 1e-6) {
			t.Errorf("%s: Forward(center) = %v, want [450 250]", f, got)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	points := []orb.Point{{0, 0}, {10, 20}, {-45.5, -33.2}, {120, 55}, {-170, 60}, {2.35, 48.85}}
	for _, f := range []Family{Mercator, NaturalEarth1, Equirectangular} {
		p, err := Build(Descriptor{Family: f, Width: 1200, Height: 800, ScaleDivisor: 6, Zoom: 1.5, Center: orb.Point{5, 10}})
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		for _, pt := range points {
			px, ok := p.Forward(pt)
			if !ok {
				t.Fatalf("%s: Forward(%v) undefined", f, pt)
			}
			back, ok := p.Invert(px)
			if !ok {
				t.Fatalf("%s: Invert(%v) undefined", f, px)
			}
			if !near(back[0], pt[0], 1e-6) || !near(back[1], pt[1], 1e-6) {
				t.Errorf("%s: Invert(Forward(%v)) = %v", f, pt, back)
			}
		}
	}

	// Mercator 在 ±85.05° 以外仍可逆，且不同纬度落在不同像素
	merc, err := Build(Descriptor{Family: Mercator, Width: 800, Height: 800, ScaleDivisor: 6})
	if err != nil {
		t.Fatal(err)
	}
	prevY := math.Inf(1)
	for _, pt := range []orb.Point{{10, 85}, {10, 86}, {10, 88}, {10, 89}, {10, 89.5}} {
		px, ok := merc.Forward(pt)
		if !ok {
			t.Fatalf("mercator: Forward(%v) undefined", pt)
		}
		if !(px[1] < prevY) {
			t.Errorf("mercator: Forward(%v) y = %v, want above %v", pt, px[1], prevY)
		}
		prevY = px[1]
		back, ok := merc.Invert(px)
		if !ok {
			t.Fatalf("mercator: Invert(%v) undefined", px)
		}
		if !near(back[0], pt[0], 1e-6) || !near(back[1], pt[1], 1e-6) {
			t.Errorf("mercator: Invert(Forward(%v)) = %v", pt, back)
		}
	}
	for _, pt := range []orb.Point{{-120, -86}, {-120, -89}} {
		px, ok := merc.Forward(pt)
		if !ok {
			t.Fatalf("mercator: Forward(%v) undefined", pt)
		}
		back, ok := merc.Invert(px)
		if !ok || !near(back[1], pt[1], 1e-6) {
			t.Errorf("mercator: Invert(Forward(%v)) = %v, %v", pt, back, ok)
		}
	}
}

func TestOrthographicRoundTripNearSide(t *testing.T) {
	p, err := Build(Descriptor{Family: Orthographic, Width: 500, Height: 500, ScaleDivisor: 2})
	if err != nil {
		t.Fatal(err)
	}
	for _, pt := range []orb.Point{{0, 0}, {30, 20}, {-60, -45}, {80, 5}} {
		px, ok := p.Forward(pt)
		if !ok {
			t.Fatalf("Forward(%v) undefined", pt)
		}
		back, ok := p.Invert(px)
		if !ok {
			t.Fatalf("Invert(%v) undefined", px)
		}
		if !near(back[0], pt[0], 1e-6) || !near(back[1], pt[1], 1e-6) {
			t.Errorf("Invert(Forward(%v)) = %v", pt, back)
		}
	}
}

func TestUndefinedPoints(t *testing.T) {
	merc, _ := Build(Descriptor{Family: Mercator, Width: 800, Height: 600, ScaleDivisor: 6})
	if _, ok := merc.Forward(orb.Point{0, 90}); ok {
		t.Errorf("mercator Forward at the pole should be undefined")
	}
	ortho, _ := Build(Descriptor{Family: Orthographic, Width: 800, Height: 600, ScaleDivisor: 2})
	if _, ok := ortho.Forward(orb.Point{180, 0}); ok {
		t.Errorf("orthographic Forward on the far side should be undefined")
	}
	if _, ok := ortho.Invert(orb.Point{0, 0}); ok {
		t.Errorf("orthographic Invert outside the disc should be undefined")
	}
	eq, _ := Build(Descriptor{Family: Equirectangular, Width: 800, Height: 600, ScaleDivisor: 6})
	if _, ok := eq.Invert(orb.Point{-5000, 300}); ok {
		t.Errorf("equirectangular Invert beyond 180 degrees should be undefined")
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want error
	}{
		{"Zero Width", Descriptor{Family: Mercator, Height: 10, ScaleDivisor: 1}, ErrInvalidDescriptor},
		{"Negative Divisor", Descriptor{Family: Mercator, Width: 10, Height: 10, ScaleDivisor: -1}, ErrInvalidDescriptor},
		{"Negative Zoom", Descriptor{Family: Mercator, Width: 10, Height: 10, ScaleDivisor: 1, Zoom: -2}, ErrInvalidDescriptor},
		{"Unknown Family", Descriptor{Family: "conic", Width: 10, Height: 10, ScaleDivisor: 1}, ErrUnknownFamily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.d); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOutOfRangeCenterDoesNotPanic(t *testing.T) {
	p, err := Build(Descriptor{Family: Mercator, Width: 400, Height: 400, ScaleDivisor: 2, Center: orb.Point{400, 95}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, _ = p.Forward(orb.Point{10, 10})
	_, _ = p.Invert(orb.Point{10, 10})
}

func TestParseFamily(t *testing.T) {
	tests := map[string]Family{
		"":                Mercator,
		"Mercator":        Mercator,
		"natural-earth-1": NaturalEarth1,
		"NaturalEarth1":   NaturalEarth1,
		"equirectangular": Equirectangular,
		"orthographic":    Orthographic,
	}
	for in, want := range tests {
		got, err := ParseFamily(in)
		if err != nil || got != want {
			t.Errorf("ParseFamily(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFamily("albers"); !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("ParseFamily(albers) error = %v", err)
	}
}
