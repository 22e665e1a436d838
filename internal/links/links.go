package links

import (
	"net/url"
	"strconv"
	"strings"
)

// Config 前台地址配置。
type Config struct {
	FrontendURL string `yaml:"frontend_url" json:"frontend_url"`
	// PathPrefix 城市前的固定路径，例如 "rooms"
	PathPrefix string `yaml:"path_prefix" json:"path_prefix"`
}

// Builder 构造房源的前台链接。
type Builder struct {
	base   string
	prefix string
}

// NewBuilder 创建 Builder。
func NewBuilder(cfg Config) *Builder {
	return &Builder{
		base:   strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		prefix: strings.Trim(strings.TrimSpace(cfg.PathPrefix), "/"),
	}
}

// PropertyURL 返回 {base}/{prefix}/{city}/{slug}，slug 为空时使用 ID。
func (b *Builder) PropertyURL(id uint, slug, city string) string {
	segments := make([]string, 0, 3)
	if b.prefix != "" {
		segments = append(segments, b.prefix)
	}
	if c := citySegment(city); c != "" {
		segments = append(segments, c)
	}
	if slug == "" {
		slug = strconv.FormatUint(uint64(id), 10)
	}
	segments = append(segments, url.PathEscape(slug))
	return b.base + "/" + strings.Join(segments, "/")
}

func citySegment(city string) string {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		return ""
	}
	return url.PathEscape(strings.Join(strings.Fields(city), "-"))
}
