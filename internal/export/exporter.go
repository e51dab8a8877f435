package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"map-export/internal/download"
	"map-export/internal/logger"
	"map-export/internal/metrics"
	"map-export/internal/scene"
)

// Exporter 导出器：场景克隆 → 序列化/栅格化 → 下载触发
// 各字段为空时使用默认实现（oksvg 栅格化、标准编码器、新建对象 URL 注册表）。
// 每次导出独立分配克隆、画布、图像与对象 URL，可并发调用。
type Exporter struct {
	Trigger    *download.Trigger
	Registry   *download.Registry
	Rasterizer Rasterizer
	Encoders   map[Format]Encoder
}

// New 以给定下载落地点创建导出器；图像加载与下载共享同一对象 URL 注册表
func New(sink download.Sink) *Exporter {
	reg := download.NewRegistry()
	return &Exporter{
		Trigger:    &download.Trigger{Registry: reg, Sink: sink},
		Registry:   reg,
		Rasterizer: SVGRasterizer{},
		Encoders:   DefaultEncoders(),
	}
}

// Report 一次导出的结果
// Err 非空时表示导出失败（已记录日志）；Skipped 表示场景缺失的无操作。
type Report struct {
	Format   Format       `json:"format"`
	Filename string       `json:"filename"`
	Target   CanvasTarget `json:"target"`
	Capped   bool         `json:"capped"`
	Bytes    int          `json:"bytes"`
	Saved    bool         `json:"saved"`
	Skipped  bool         `json:"skipped,omitempty"`
	Stage    string       `json:"stage,omitempty"`
	Err      error        `json:"-"`
}

func (e *Exporter) registry() *download.Registry {
	if e.Registry != nil {
		return e.Registry
	}
	if e.Trigger != nil && e.Trigger.Registry != nil {
		return e.Trigger.Registry
	}
	return download.NewRegistry()
}

func (e *Exporter) rasterizer() Rasterizer {
	if e.Rasterizer == nil {
		return SVGRasterizer{}
	}
	return e.Rasterizer
}

func (e *Exporter) encoder(f Format) (Encoder, bool) {
	encs := e.Encoders
	if encs == nil {
		encs = DefaultEncoders()
	}
	enc, ok := encs[f]
	return enc, ok
}

func blobOf(f Format, b []byte) download.Blob {
	return download.Blob{Data: b, Type: f.MIMEType()}
}

// Export 按请求格式分派到矢量或栅格导出
func (e *Exporter) Export(ctx context.Context, live *scene.Scene, req Request) Report {
	req.Normalize()
	if req.Format == SVG {
		rep := Report{Format: SVG, Filename: req.Filename}
		if live.Root() == nil {
			rep.Skipped = true
			return rep
		}
		start := time.Now()
		n, err := e.exportVector(live, req.Filename, req.InlineStyles)
		rep.Bytes = n
		if err != nil {
			return e.fail(rep, "download", err)
		}
		rep.Saved = true
		e.done(rep, start)
		return rep
	}
	return e.ExportRaster(ctx, live, req)
}

// ExportVector 导出 SVG；场景缺失时无操作
func (e *Exporter) ExportVector(ctx context.Context, live *scene.Scene, filename string, inlineStyles bool) error {
	if live.Root() == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if filename == "" {
		filename = DefaultFilename(SVG, 1)
	}
	start := time.Now()
	n, err := e.exportVector(live, filename, inlineStyles)
	if err != nil {
		metrics.ExportFailuresTotal.WithLabelValues("download").Inc()
		return err
	}
	e.done(Report{Format: SVG, Filename: filename, Bytes: n, Saved: true}, start)
	return nil
}

func (e *Exporter) exportVector(live *scene.Scene, filename string, inlineStyles bool) (int, error) {
	clone := scene.PrepareClone(live, inlineStyles)
	markup, err := scene.Serialize(clone)
	if err != nil {
		return 0, fmt.Errorf("serialize scene: %w", err)
	}
	if err := e.Trigger.DownloadBlob(blobOf(SVG, markup), filename); err != nil {
		return 0, err
	}
	return len(markup), nil
}

// 文档注释：栅格导出
// 步骤：克隆并序列化 → 计算画布尺寸（超限等比缩小，仅告警）→ 分配并清空画布 →
// jpeg 或显式指定背景色时先整幅铺底（默认白色）→ 单次加载并绘制图像 → 编码 → 下载。
// 约束：任何失败只记录日志并写入 Report.Err，不向调用方返回错误；场景缺失时无操作。
func (e *Exporter) ExportRaster(ctx context.Context, live *scene.Scene, req Request) Report {
	req.Normalize()
	rep := Report{Format: req.Format, Filename: req.Filename}
	if live.Root() == nil {
		rep.Skipped = true
		return rep
	}
	if !req.Format.Raster() {
		return e.fail(rep, "request", fmt.Errorf("%w: %q", ErrUnknownFormat, req.Format))
	}
	enc, ok := e.encoder(req.Format)
	if !ok {
		return e.fail(rep, "request", fmt.Errorf("%w: %s", ErrNoEncoder, req.Format))
	}
	start := time.Now()
	l := logger.L()

	clone := scene.PrepareClone(live, req.InlineStyles)
	markup, err := scene.Serialize(clone)
	if err != nil {
		return e.fail(rep, "serialize", err)
	}
	iw, ih := IntrinsicSize(clone, live.ClientWidth, live.ClientHeight)
	target, capped := Target(iw, ih, req.DevicePixelRatio, req.Scale, req.MaxDimension)
	rep.Target, rep.Capped = target, capped
	if capped {
		metrics.ExportCappedTotal.Inc()
		l.Warn("export_target_capped",
			"format", req.Format,
			"requested_w", iw*req.DevicePixelRatio*float64(req.Scale),
			"requested_h", ih*req.DevicePixelRatio*float64(req.Scale),
			"width", target.Width,
			"height", target.Height,
			"max", req.MaxDimension,
		)
	}

	canvas, err := newCanvas(target)
	if err != nil {
		return e.fail(rep, "context", err)
	}
	if req.Format == JPEG || req.BackgroundColor != "" {
		bg, ok := ParseColor(req.BackgroundColor)
		if !ok && req.BackgroundColor != "" {
			l.Debug("export_background_invalid", "color", req.BackgroundColor)
		}
		fillBackground(canvas, bg)
	}

	img, err := e.loadImage(ctx, markup, target)
	if err != nil {
		return e.fail(rep, "decode", err)
	}
	drawScaled(canvas, img)

	var buf bytes.Buffer
	if err := enc.Encode(&buf, canvas, req.Quality); err != nil {
		return e.fail(rep, "encode", err)
	}
	if buf.Len() == 0 {
		return e.fail(rep, "encode", ErrEmptyEncoding)
	}
	rep.Bytes = buf.Len()
	if err := e.Trigger.DownloadBlob(blobOf(req.Format, buf.Bytes()), req.Filename); err != nil {
		return e.fail(rep, "download", err)
	}
	rep.Saved = true
	e.done(rep, start)
	return rep
}

func (e *Exporter) fail(rep Report, stage string, err error) Report {
	rep.Stage, rep.Err = stage, err
	metrics.ExportFailuresTotal.WithLabelValues(stage).Inc()
	logger.L().Error("export_failed", "format", rep.Format, "filename", rep.Filename, "stage", stage, "err", err)
	return rep
}

func (e *Exporter) done(rep Report, start time.Time) {
	metrics.ExportsTotal.WithLabelValues(string(rep.Format)).Inc()
	metrics.ExportDurationMs.WithLabelValues(string(rep.Format)).Observe(float64(time.Since(start).Milliseconds()))
	logger.L().Info("export_done",
		"format", rep.Format,
		"filename", rep.Filename,
		"bytes", rep.Bytes,
		"width", rep.Target.Width,
		"height", rep.Target.Height,
		"capped", rep.Capped,
	)
}
