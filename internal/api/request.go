package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"

	"listing-desk/internal/apperr"
	"listing-desk/internal/media"

	"github.com/gin-gonic/gin"
)

// 单次请求的 multipart 内存上限，超出部分写入临时文件。
const maxMultipartMemory = 32 << 20

// 上传文件所在的表单字段。
var uploadFields = []string{"images", "images[]", "uploads", "uploads[]"}

// parsePayload 读取 JSON 或 multipart 请求体，返回字段与上传文件。
func parsePayload(c *gin.Context) (map[string]any, []media.File, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, nil, invalidBody(err)
		}
		form := c.Request.MultipartForm
		return formFields(form.Value), formFiles(form.File), nil
	case "application/x-www-form-urlencoded":
		if err := c.Request.ParseForm(); err != nil {
			return nil, nil, invalidBody(err)
		}
		return formFields(c.Request.PostForm), nil, nil
	default:
		payload := map[string]any{}
		if c.Request.Body == nil {
			return payload, nil, nil
		}
		err := json.NewDecoder(c.Request.Body).Decode(&payload)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, invalidBody(err)
		}
		return payload, nil, nil
	}
}

func invalidBody(err error) error {
	return apperr.NewValidationError(map[string]string{"body": fmt.Sprintf("The request body is invalid: %v.", err)})
}

// formFields 将表单值转换为与 JSON 相同的结构：
// "a[]" 为列表，"a[b]" 为对象，重复字段为列表。
func formFields(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		if base, ok := strings.CutSuffix(key, "[]"); ok {
			out[base] = toAnySlice(vals)
			continue
		}
		if open := strings.IndexByte(key, '['); open > 0 && strings.HasSuffix(key, "]") {
			base, sub := key[:open], key[open+1:len(key)-1]
			nested, _ := out[base].(map[string]any)
			if nested == nil {
				nested = map[string]any{}
				out[base] = nested
			}
			nested[sub] = vals[len(vals)-1]
			continue
		}
		if len(vals) > 1 {
			out[key] = toAnySlice(vals)
			continue
		}
		if vals[0] == "null" {
			out[key] = nil
			continue
		}
		out[key] = vals[0]
	}
	return out
}

func toAnySlice(vals []string) []any {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
	}
	return out
}

func formFiles(files map[string][]*multipart.FileHeader) []media.File {
	var out []media.File
	for _, field := range uploadFields {
		for _, fh := range files[field] {
			out = append(out, media.File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Open: func() (io.ReadCloser, error) {
					return fh.Open()
				},
			})
		}
	}
	return out
}

func pathID(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%s %q: %w", name, c.Param(name), apperr.ErrNotFound)
	}
	return uint(v), nil
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
