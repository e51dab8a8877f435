package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"map-export/internal/download"
	"map-export/internal/export"
	"map-export/internal/geometry"
	"map-export/internal/logger"
	"map-export/internal/projection"
	"map-export/internal/render"
	"map-export/internal/utils"

	"github.com/joho/godotenv"
)

// 文档注释：离线渲染并导出底图
// 背景：读取 GeoJSON 目录，按投影参数绘制地图，依次导出到输出目录（map.svg、map@2x.png 等）。
// 约束：任一格式失败只记录日志并继续下一个格式；全部失败时退出码为 1。
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	dir := flag.String("dir", utils.EnvString("GEOJSON_DIR", filepath.Join("data", "geojson")), "GeoJSON directory")
	out := flag.String("out", ".", "Output directory")
	formats := flag.String("formats", "svg,png", "Comma separated formats (svg, png, jpeg, webp)")
	family := flag.String("family", "mercator", "Projection family (mercator, naturalearth1, equirectangular, orthographic)")
	width := flag.Float64("width", 960, "Viewport width")
	height := flag.Float64("height", 500, "Viewport height")
	divisor := flag.Float64("divisor", 2, "Scale divisor")
	zoom := flag.Float64("zoom", 1, "Zoom factor")
	flyTo := flag.String("flyto", "", "Center and zoom on this ISO country code")
	scale := flag.Int("scale", 1, "Raster scale multiplier")
	dpr := flag.Float64("dpr", 1, "Device pixel ratio")
	maxDim := flag.Int("max", utils.EnvInt("EXPORT_MAX_DIMENSION", export.DefaultMaxDimension), "Maximum raster side in pixels")
	quality := flag.Float64("quality", export.DefaultQuality, "JPEG quality (0..1)")
	bg := flag.String("bg", "", "Raster background color")
	graticule := flag.Float64("graticule", 0, "Graticule step in degrees, at least 1 (0 disables)")
	noInline := flag.Bool("no-inline", false, "Do not inline computed styles")
	flag.Parse()

	if err := render.CheckGraticuleStep(*graticule); err != nil {
		l.Error("graticule_invalid", "err", err)
		os.Exit(2)
	}
	fam, err := projection.ParseFamily(*family)
	if err != nil {
		l.Error("projection_family_invalid", "err", err)
		os.Exit(2)
	}
	fc, err := geometry.LoadFeatures(*dir)
	if err != nil {
		l.Error("geojson_load_error", "dir", *dir, "err", err)
		os.Exit(1)
	}

	d := projection.Descriptor{Family: fam, Width: *width, Height: *height, ScaleDivisor: *divisor, Zoom: *zoom}
	highlight := ""
	if *flyTo != "" {
		iso := strings.ToUpper(*flyTo)
		if ft, ok := geometry.CenterAndZoomFor(fc, iso); ok {
			d.Center, d.Zoom = ft.Center, ft.Zoom
			highlight = iso
			l.Info("flyto_target", "iso", iso, "center", fmt.Sprint(ft.Center), "zoom", ft.Zoom)
		} else {
			l.Warn("flyto_not_found", "iso", iso)
		}
	}
	p, err := projection.Build(d)
	if err != nil {
		l.Error("projection_build_error", "err", err)
		os.Exit(2)
	}
	sc, err := render.Scene(fc, render.Options{Projection: p, GraticuleStep: *graticule, Highlight: highlight})
	if err != nil {
		l.Error("render_error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ex := export.New(download.DirSink{Dir: *out})
	ok := 0
	for _, name := range strings.Split(*formats, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, err := export.ParseFormat(name)
		if err != nil {
			l.Error("format_invalid", "format", name, "err", err)
			continue
		}
		req := export.NewRequest(f)
		req.Scale = *scale
		req.DevicePixelRatio = *dpr
		req.MaxDimension = *maxDim
		req.Quality = *quality
		req.BackgroundColor = *bg
		req.InlineStyles = !*noInline
		// 倍率改变后重新生成默认文件名
		req.Filename = ""
		req.Normalize()
		rep := ex.Export(ctx, sc, req)
		if rep.Err != nil {
			continue
		}
		ok++
		l.Info("file_written", "path", filepath.Join(*out, rep.Filename), "bytes", rep.Bytes)
	}
	if ok == 0 {
		os.Exit(1)
	}
}
