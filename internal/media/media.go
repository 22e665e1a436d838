package media

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ImageSeparator 图片地址列表的分隔符。
const ImageSeparator = ", "

// File 是一次请求中上传的文件。
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// UploadOptions 单文件上传选项。
type UploadOptions struct {
	Folder     string
	ObjectName string
}

// Uploader 对象存储上传接口。
type Uploader interface {
	UploadMany(ctx context.Context, files []File, folder string) ([]string, error)
	UploadOne(ctx context.Context, file File, opts UploadOptions) (string, error)
}

// SplitImages 解析逗号分隔的图片列表，去掉空项。
func SplitImages(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinImages 以 ", " 拼接图片列表。
func JoinImages(items []string) string {
	return strings.Join(items, ImageSeparator)
}

// FirstImage 返回主图地址。
func FirstImage(s string) string {
	items := SplitImages(s)
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

// Resolver 合并已有图片与新上传图片。
type Resolver struct {
	uploader Uploader
}

// NewResolver 创建 Resolver。
func NewResolver(u Uploader) *Resolver {
	return &Resolver{uploader: u}
}

// ResolveInput 描述一次图片合并
// - Current: 草稿当前保存的列表
// - Existing: 请求中重新排序后的已有列表，HasExisting 为 false 时使用 Current
// - Files: 本次上传的文件，按上传顺序追加到末尾
type ResolveInput struct {
	Current     string
	Existing    []string
	HasExisting bool
	Files       []File
	Folder      string
}

// Resolve 返回合并后的列表与是否需要写回。
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (string, bool, error) {
	if !in.HasExisting && len(in.Files) == 0 {
		return in.Current, false, nil
	}

	base := in.Existing
	if !in.HasExisting {
		base = SplitImages(in.Current)
	}
	merged := make([]string, 0, len(base)+len(in.Files))
	for _, item := range base {
		if item = strings.TrimSpace(item); item != "" {
			merged = append(merged, item)
		}
	}

	if len(in.Files) > 0 {
		if r.uploader == nil {
			return "", false, fmt.Errorf("upload images: no uploader configured")
		}
		urls, err := r.uploader.UploadMany(ctx, in.Files, in.Folder)
		if err != nil {
			return "", false, fmt.Errorf("upload images: %w", err)
		}
		merged = append(merged, urls...)
	}

	return JoinImages(merged), true, nil
}
