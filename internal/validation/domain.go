package validation

import (
	"net"
	"net/url"
	"strings"
)

// MatchesDomain 判断主机是否等于列表中的某个域名或为其子域名，忽略大小写与端口。
func MatchesDomain(host string, domains []string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = normalizeHost(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// OriginHost 从 Origin 或 Referer 头中提取主机名，优先 Origin。
func OriginHost(origin, referer string) string {
	for _, raw := range []string{origin, referer} {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "null" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return normalizeHost(u.Host)
		}
		if h := normalizeHost(raw); h != "" {
			return h
		}
	}
	return ""
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			h = u.Host
		}
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(strings.Trim(h, "[]"), ".")
}
