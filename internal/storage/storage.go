// Package storage 保存附件内容，对象按路径寻址，通过公开 URL 访问。
package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	PublicURL(key string) string
}

func joinURL(base string, parts ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + path.Join(parts...)
	}
	u.Path = path.Join(append([]string{u.Path}, parts...)...)
	return u.String()
}

// Disk 把对象写到本地目录，由服务以静态文件方式提供。
type Disk struct {
	dir     string
	baseURL string
}

func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Disk{dir: dir, baseURL: baseURL}, nil
}

func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Put(ctx context.Context, key, _ string, r io.Reader, _ int64) error {
	target := filepath.Join(d.dir, filepath.FromSlash(path.Clean("/"+key)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return err
	}
	return f.Close()
}

func (d *Disk) PublicURL(key string) string { return joinURL(d.baseURL, key) }
