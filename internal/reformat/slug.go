package reformat

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 前台链接中的数字前缀偏移。
const slugIDOffset = 1000

const (
	maxSlugLength = 90
	defaultSlug   = "property"
)

// 无法靠去除重音完成转写的字母。
var slugReplacer = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "ø", "o", "œ", "oe", "ł", "l", "đ", "d", "þ", "th",
)

// Slug 生成 {id+1000}-{aiSlug}-{city} 并清洗为 [a-z0-9-]。
func Slug(id uint, aiSlug, city string) string {
	return Sanitize(fmt.Sprintf("%d-%s-%s", uint64(id)+slugIDOffset, aiSlug, city))
}

// Sanitize 小写、转写重音字符、去掉非 [a-z0-9-] 字符、合并连字符并截断。
func Sanitize(s string) string {
	s = slugReplacer.Replace(strings.ToLower(s))
	if folded, _, err := transform.String(foldAccents(), s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == '_' || r == '/' || unicode.IsSpace(r):
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugLength {
		out = strings.TrimRight(out[:maxSlugLength], "-")
	}
	if out == "" {
		return defaultSlug
	}
	return out
}

func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
