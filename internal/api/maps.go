package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"map-export/internal/download"
	"map-export/internal/export"
	"map-export/internal/logger"
	"map-export/internal/metrics"
	"map-export/internal/render"
	"map-export/internal/scene"
	"map-export/internal/store"

	"github.com/paulmach/orb"
)

// captureSink 只保留最后一次保存的数据块，交给缓存与响应使用
type captureSink struct {
	mu   sync.Mutex
	blob download.Blob
}

func (c *captureSink) Save(filename string, b download.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob = download.Blob{Data: append([]byte(nil), b.Data...), Type: b.Type}
	return nil
}

// exportRequestFromQuery 解析 scale/inline/max/quality/bg/dpr/filename
// 约束：max 不得超过服务端配置的最大边；超出时按配置值截断。
func (s *server) exportRequestFromQuery(q url.Values, f export.Format) (export.Request, error) {
	req := export.NewRequest(f)
	scale, err := intParam(q, "scale", export.DefaultScale)
	if err != nil {
		return req, err
	}
	if scale < 1 {
		return req, fmt.Errorf("%w: scale must be at least 1", errBadParam)
	}
	maxDim, err := intParam(q, "max", s.Config.MaxDimension)
	if err != nil {
		return req, err
	}
	if maxDim <= 0 || maxDim > s.Config.MaxDimension {
		maxDim = s.Config.MaxDimension
	}
	quality, err := floatParam(q, "quality", export.DefaultQuality)
	if err != nil {
		return req, err
	}
	if math.IsNaN(quality) {
		return req, fmt.Errorf("%w: quality=%q", errBadParam, q.Get("quality"))
	}
	quality = math.Max(0, math.Min(1, quality))
	dpr, err := floatParam(q, "dpr", export.DefaultPixelRatio)
	if err != nil {
		return req, err
	}
	req.Scale = scale
	req.MaxDimension = maxDim
	req.Quality = quality
	req.DevicePixelRatio = dpr
	req.InlineStyles = boolParam(q, "inline", true)
	req.BackgroundColor = q.Get("bg")
	req.Filename = strings.TrimSpace(q.Get("filename"))
	req.Normalize()
	return req, nil
}

// markersFromQuery 解析 marker=lon,lat[,label]，可重复
func markersFromQuery(q url.Values) ([]render.Marker, error) {
	var out []render.Marker
	for _, raw := range q["marker"] {
		parts := strings.SplitN(raw, ",", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: marker=%q", errBadParam, raw)
		}
		lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: marker=%q", errBadParam, raw)
		}
		m := render.Marker{Point: orb.Point{lon, lat}}
		if len(parts) == 3 {
			m.Label = strings.TrimSpace(parts[2])
		}
		out = append(out, m)
	}
	return out, nil
}

// 文档注释：服务端渲染并导出整幅地图
// 背景：同一查询参数的结果完全确定，按“格式 + 规范化查询串”缓存编码结果，避免重复栅格化。
// 约束：overlay=true 时标注层只在页面显示，导出结果中不包含。
func (s *server) mapHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := export.ParseFormat(name)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		q := r.URL.Query()
		key := string(f) + "?" + q.Encode()
		if b, ok := s.renders.Get(key); ok {
			metrics.RenderCacheHitsTotal.Inc()
			s.serveBlob(w, b, filenameFor(q, f))
			return
		}
		metrics.RenderCacheMissesTotal.Inc()

		p, err := projectionFromQuery(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req, err := s.exportRequestFromQuery(q, f)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		markers, err := markersFromQuery(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		graticule, err := floatParam(q, "graticule", 0)
		if err == nil {
			if cerr := render.CheckGraticuleStep(graticule); cerr != nil {
				err = fmt.Errorf("%w: %v", errBadParam, cerr)
			}
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sc, err := render.Scene(s.Features, render.Options{
			Projection:     p,
			GraticuleStep:  graticule,
			Markers:        markers,
			MarkersOverlay: boolParam(q, "overlay", false),
			Highlight:      strings.ToUpper(strings.TrimSpace(q.Get("highlight"))),
		})
		if err != nil {
			logger.L().Error("map_render_failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		sink := &captureSink{}
		rep := s.exporter(sink).Export(r.Context(), sc, req)
		s.recordExport(r, rep)
		if rep.Err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: rep.Err.Error(), Stage: rep.Stage})
			return
		}
		s.renders.Set(key, sink.blob)
		s.serveBlob(w, sink.blob, rep.Filename)
	})
}

func filenameFor(q url.Values, f export.Format) string {
	if name := strings.TrimSpace(q.Get("filename")); name != "" {
		return name
	}
	scale, _ := strconv.Atoi(q.Get("scale"))
	if scale < 1 {
		scale = export.DefaultScale
	}
	return export.DefaultFilename(f, scale)
}

func (s *server) exporter(sink download.Sink) *export.Exporter {
	e := export.New(sink)
	e.Registry = s.registry
	e.Trigger.Registry = s.registry
	return e
}

func (s *server) recordExport(r *http.Request, rep export.Report) {
	rec := store.ExportRecord{Format: string(rep.Format), Bytes: rep.Bytes, Capped: rep.Capped, Failed: rep.Err != nil}
	if err := s.Store.RecordExport(r.Context(), rec); err != nil {
		logger.L().Error("export_record_failed", "err", err)
	}
}

func (s *server) serveBlob(w http.ResponseWriter, b download.Blob, filename string) {
	w.Header().Set("cache-control", "no-store")
	if err := (download.ResponseSink{W: w}).Save(filename, b); err != nil {
		logger.L().Warn("response_write_failed", "filename", filename, "err", err)
	}
}

// 文档注释：导出调用方提交的活动场景
// 请求体为 SVG 标记（可含 <style>）；client_w/client_h 为页面上的客户区尺寸。
// 失败时返回 422，stage 指明失败阶段（request/serialize/context/decode/encode/download）。
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	q := r.URL.Query()
	f, err := export.ParseFormat(q.Get("format"))
	if q.Get("format") == "" {
		f, err = export.PNG, nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := s.exportRequestFromQuery(q, f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.Config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc, err := scene.Parse(bytes.TrimSpace(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cw, err := floatParam(q, "client_w", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ch, err := floatParam(q, "client_h", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc.ClientWidth, sc.ClientHeight = cw, ch

	sink := &captureSink{}
	rep := s.exporter(sink).Export(r.Context(), sc, req)
	s.recordExport(r, rep)
	if rep.Err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: rep.Err.Error(), Stage: rep.Stage})
		return
	}
	if rep.Capped {
		w.Header().Set("X-Export-Capped", fmt.Sprintf("%dx%d", rep.Target.Width, rep.Target.Height))
	}
	s.serveBlob(w, sink.blob, rep.Filename)
}
