package geometry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"map-export/internal/logger"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// 文档注释：从数据目录加载国家边界要素
// 背景：支持 Natural Earth 等来源的 *.geojson / *.json 文件（FeatureCollection 或单个 Feature）；合并为一个要素集合。
// 约束：仅保留 Polygon/MultiPolygon 几何；单个文件解析失败时跳过并记录日志，不中断其它文件。
func LoadFeatures(dir string) (*geojson.FeatureCollection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read geojson dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		n := strings.ToLower(ent.Name())
		if ent.IsDir() || !(strings.HasSuffix(n, ".geojson") || strings.HasSuffix(n, ".json")) {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	out := geojson.NewFeatureCollection()
	for _, name := range names {
		fc, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			logger.L().Error("geojson_load_error", "file", name, "err", err)
			continue
		}
		out.Features = append(out.Features, fc.Features...)
	}
	logger.L().Info("geojson_loaded", "dir", dir, "files", len(names), "features", len(out.Features))
	return out, nil
}

// LoadFile 读取单个 GeoJSON 文件，返回仅含面要素的集合
func LoadFile(path string) (*geojson.FeatureCollection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse 解析 FeatureCollection 或单个 Feature
func Parse(b []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil || fc.Type != "FeatureCollection" {
		f, ferr := geojson.UnmarshalFeature(b)
		if ferr != nil {
			if err != nil {
				return nil, fmt.Errorf("parse geojson: %w", err)
			}
			return nil, fmt.Errorf("parse geojson: %w", ferr)
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			out.Append(f)
		}
	}
	return out, nil
}
