package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"map-export/internal/projection"

	"github.com/paulmach/orb"
)

var errBadParam = errors.New("bad parameter")

// 视口缺省值：960×500，缩放除数 2，缩放倍数 1
const (
	defaultWidth   = 960
	defaultHeight  = 500
	defaultDivisor = 2
)

func floatParam(q url.Values, key string, def float64) (float64, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadParam, key, s)
	}
	return v, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadParam, key, s)
	}
	return v, nil
}

func boolParam(q url.Values, key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(q.Get(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// descriptorFromQuery 解析 family/width/height/divisor/zoom/clon/clat
func descriptorFromQuery(q url.Values) (projection.Descriptor, error) {
	var d projection.Descriptor
	fam, err := projection.ParseFamily(q.Get("family"))
	if err != nil {
		return d, err
	}
	d.Family = fam
	for _, p := range []struct {
		key string
		def float64
		dst *float64
	}{
		{"width", defaultWidth, &d.Width},
		{"height", defaultHeight, &d.Height},
		{"divisor", defaultDivisor, &d.ScaleDivisor},
		{"zoom", 1, &d.Zoom},
		{"clon", 0, &d.Center[0]},
		{"clat", 0, &d.Center[1]},
	} {
		v, err := floatParam(q, p.key, p.def)
		if err != nil {
			return d, err
		}
		*p.dst = v
	}
	return d, nil
}

func projectionFromQuery(q url.Values) (*projection.Projection, error) {
	d, err := descriptorFromQuery(q)
	if err != nil {
		return nil, err
	}
	return projection.Build(d)
}

func pointParams(q url.Values, kx, ky string) (orb.Point, error) {
	if q.Get(kx) == "" || q.Get(ky) == "" {
		return orb.Point{}, fmt.Errorf("%w: %s and %s are required", errBadParam, kx, ky)
	}
	x, err := floatParam(q, kx, 0)
	if err != nil {
		return orb.Point{}, err
	}
	y, err := floatParam(q, ky, 0)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

type pixelBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type lonLatBody struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	ISO    string  `json:"iso,omitempty"`
	Approx bool    `json:"approx,omitempty"`
}

// handleProject 经纬度 → 像素；投影在该点无定义时返回 null
func (s *server) handleProject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := projectionFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pt, err := pointParams(q, "lon", "lat")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	px, ok := p.Forward(pt)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, pixelBody{X: px[0], Y: px[1]})
}

// handleInvert 像素 → 经纬度（坐标显示）；无法反算时返回 null
func (s *server) handleInvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := projectionFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	px, err := pointParams(q, "x", "y")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ll, ok := p.Invert(px)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, lonLatBody{Lon: ll[0], Lat: ll[1]})
}

// handleLocate 像素 → 经纬度 → 所在国家；反算失败返回 null，未落在任何国家时 iso 为空
func (s *server) handleLocate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := projectionFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	px, err := pointParams(q, "x", "y")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ll, ok := p.Invert(px)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	out := lonLatBody{Lon: ll[0], Lat: ll[1]}
	if hit, found := s.Locator.Locate(ll); found {
		out.ISO, out.Approx = hit.ISO, hit.Approx
	}
	writeJSON(w, http.StatusOK, out)
}
