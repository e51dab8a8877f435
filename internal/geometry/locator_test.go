package geometry

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

func TestLocate(t *testing.T) {
	l := NewLocator(testCollection(), LocatorOptions{})
	tests := []struct {
		name   string
		pt     orb.Point
		iso    string
		approx bool
		found  bool
	}{
		{"Inside Polygon", orb.Point{5, 5}, "BIG", false, true},
		{"Inside Second Part", orb.Point{-45, -9}, "MUL", false, true},
		{"Near Small Island", orb.Point{10.05, 40.3}, "TNY", true, true},
		{"Open Ocean", orb.Point{-150, -60}, "", false, false},
		{"NaN", orb.Point{math.NaN(), 0}, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := l.Locate(tt.pt)
			if ok != tt.found {
				t.Fatalf("Locate() found = %v, want %v", ok, tt.found)
			}
			if h.ISO != tt.iso || h.Approx != tt.approx {
				t.Errorf("Locate() = %+v, want iso %q approx %v", h, tt.iso, tt.approx)
			}
			if ok && h.Feature() == nil {
				t.Errorf("hit without feature")
			}
		})
	}
	// 同一 geohash 格内命中缓存
	if h, ok := l.Locate(orb.Point{5.0001, 5.0001}); !ok || h.ISO != "BIG" {
		t.Errorf("cached Locate() = %+v, %v", h, ok)
	}
}

func TestLocatorEmpty(t *testing.T) {
	if _, ok := NewLocator(nil, LocatorOptions{}).Locate(orb.Point{0, 0}); ok {
		t.Errorf("empty locator should not find anything")
	}
	var l *Locator
	if _, ok := l.Locate(orb.Point{0, 0}); ok {
		t.Errorf("nil locator should not find anything")
	}
}

func TestNearestMatchesBruteForce(t *testing.T) {
	var cs []centroid
	for lon := -170.0; lon <= 170; lon += 23 {
		for lat := -80.0; lat <= 80; lat += 17 {
			cs = append(cs, centroid{pt: orb.Point{lon + lat/7, lat}})
		}
	}
	all := append([]centroid(nil), cs...)
	root := buildKD(cs, 0)
	queries := []orb.Point{{0, 0}, {179, 85}, {-179, -85}, {33.3, 12.1}, {-100, 60}, {120, -45}}
	for _, q := range queries {
		got, d := nearest(root, q)
		want := math.MaxFloat64
		for _, c := range all {
			want = math.Min(want, geo.DistanceHaversine(q, c.pt)/1000)
		}
		if math.Abs(d-want) > 1e-6 {
			t.Errorf("nearest(%v) = %v at %.3fkm, brute force %.3fkm", q, got.pt, d, want)
		}
	}
}
