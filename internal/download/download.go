// 包 download：二进制块 → 文件保存（目录文件或 HTTP 附件），经由一次性的对象 URL 中转
package download

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"map-export/internal/logger"
)

var (
	ErrURLRevoked  = errors.New("download: object url unknown or revoked")
	ErrNoSink      = errors.New("download: no sink configured")
	ErrBadFilename = errors.New("download: invalid filename")
)

// Blob 带 MIME 类型的内存数据块
type Blob struct {
	Data []byte
	Type string
}

func (b Blob) Size() int { return len(b.Data) }

// Registry 对象 URL 注册表
// 约束：每个 URL 恰好撤销一次；撤销后不可再打开，重复撤销返回 false 且不改变计数。并发安全。
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	live    map[string]Blob
	created uint64
	revoked uint64
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]Blob)}
}

const urlPrefix = "blob:map-export/"

// CreateObjectURL 登记数据块并返回其 URL
func (r *Registry) CreateObjectURL(b Blob) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.created++
	url := urlPrefix + strconv.FormatUint(r.seq, 10)
	r.live[url] = b
	return url
}

// Open 读取仍有效的 URL 对应的数据块
func (r *Registry) Open(url string) (Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.live[url]
	if !ok {
		return Blob{}, ErrURLRevoked
	}
	return b, nil
}

// Revoke 释放 URL；仅首次调用返回 true
func (r *Registry) Revoke(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[url]; !ok {
		return false
	}
	delete(r.live, url)
	r.revoked++
	return true
}

// Live 尚未撤销的 URL 数量
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Counts 累计创建与撤销次数
func (r *Registry) Counts() (created, revoked uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created, r.revoked
}

// Sink 下载落地点
type Sink interface {
	Save(filename string, b Blob) error
}

// DirSink 写入本地目录（CLI 使用）；文件名只取基名
type DirSink struct {
	Dir string
}

func (s DirSink) Save(filename string, b Blob) error {
	name, err := cleanName(filename)
	if err != nil {
		return err
	}
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ResponseSink 作为 HTTP 附件写出
type ResponseSink struct {
	W http.ResponseWriter
}

func (s ResponseSink) Save(filename string, b Blob) error {
	name, err := cleanName(filename)
	if err != nil {
		return err
	}
	h := s.W.Header()
	if b.Type != "" {
		h.Set("Content-Type", b.Type)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("Content-Length", strconv.Itoa(len(b.Data)))
	s.W.WriteHeader(http.StatusOK)
	if _, err := s.W.Write(b.Data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Trigger 下载触发器：建 URL → 交给落地点 → 撤销 URL
type Trigger struct {
	Registry *Registry
	Sink     Sink
}

// DownloadBlob 同步保存数据块；无论成功与否，URL 都在返回前撤销
func (t *Trigger) DownloadBlob(b Blob, filename string) error {
	if t == nil || t.Sink == nil {
		return ErrNoSink
	}
	reg := t.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	url := reg.CreateObjectURL(b)
	defer reg.Revoke(url)
	blob, err := reg.Open(url)
	if err != nil {
		return err
	}
	if err := t.Sink.Save(filename, blob); err != nil {
		return fmt.Errorf("save %s: %w", filename, err)
	}
	logger.L().Debug("download_saved", "filename", filename, "type", blob.Type, "bytes", blob.Size())
	return nil
}

func cleanName(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrBadFilename
	}
	return name, nil
}
