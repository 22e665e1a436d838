package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"listing-desk/internal/model"

	"golang.org/x/net/html"
)

// Config 描述翻译改写的提示词配置。
type Config struct {
	PromptTemplate string     `yaml:"prompt_template" json:"prompt_template"`
	SystemPrompt   string     `yaml:"system_prompt" json:"system_prompt"`
	Chat           ChatConfig `yaml:"chat" json:"chat"`
}

// LLMClient 抽象大模型调用，便于测试注入。
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ReformatRequest 是一次改写的英文输入。
type ReformatRequest struct {
	Description string
	Title       string
	Flatmates   string
	Period      string
	City        string
	Locales     []string
}

// ReformatResult 是按语言展开的改写结果，字段为 nil 表示未返回。
type ReformatResult struct {
	Description map[string]string
	Title       map[string]string
	Flatmates   map[string]string
	Period      map[string]string
	Slug        string
}

// Reformatter 组合提示词与 LLM 实现房源描述的改写与翻译。
type Reformatter struct {
	cfg Config
	llm LLMClient
}

// New 创建 Reformatter。
func New(cfg Config, llm LLMClient) *Reformatter {
	return &Reformatter{cfg: cfg, llm: llm}
}

// Reformat 调用 LLM，返回包含全部语言的映射。
func (r *Reformatter) Reformat(ctx context.Context, req ReformatRequest) (ReformatResult, error) {
	if r.llm == nil {
		return ReformatResult{}, fmt.Errorf("llm client not configured")
	}
	locales := model.EnsureLocales(req.Locales)
	text := HTMLToText(req.Description)
	if strings.TrimSpace(text) == "" {
		return ReformatResult{}, fmt.Errorf("description is empty")
	}

	system := strings.TrimSpace(r.cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	respText, err := r.llm.Complete(ctx, system, r.buildPrompt(req, text, locales))
	if err != nil {
		return ReformatResult{}, fmt.Errorf("llm complete: %w", err)
	}

	var payload llmReformat
	if err := json.Unmarshal([]byte(stripFences(respText)), &payload); err != nil {
		return ReformatResult{}, fmt.Errorf("parse llm response: %w", err)
	}
	if len(payload.Description) == 0 {
		return ReformatResult{}, fmt.Errorf("parse llm response: description missing")
	}

	res := ReformatResult{
		Description: fillLocales(payload.Description, locales, text),
		Title:       fillLocales(payload.Title, locales, req.Title),
		Slug:        strings.TrimSpace(payload.Slug),
	}
	if strings.TrimSpace(req.Flatmates) != "" {
		res.Flatmates = fillLocales(payload.Flatmates, locales, req.Flatmates)
	}
	if strings.TrimSpace(req.Period) != "" {
		res.Period = fillLocales(payload.Period, locales, req.Period)
	}
	return res, nil
}

func (r *Reformatter) buildPrompt(req ReformatRequest, text string, locales []string) string {
	template := strings.TrimSpace(r.cfg.PromptTemplate)
	if template == "" {
		template = defaultPrompt
	}
	prompt := strings.ReplaceAll(template, "{{TEXT}}", text)
	prompt = strings.ReplaceAll(prompt, "{{LOCALES}}", strings.Join(locales, ", "))
	prompt = strings.ReplaceAll(prompt, "{{CITY}}", req.City)

	var extra strings.Builder
	if t := strings.TrimSpace(req.Title); t != "" {
		fmt.Fprintf(&extra, "\nCurrent title: %s", t)
	}
	if f := strings.TrimSpace(req.Flatmates); f != "" {
		fmt.Fprintf(&extra, "\nFlatmates: %s", f)
	}
	if p := strings.TrimSpace(req.Period); p != "" {
		fmt.Fprintf(&extra, "\nRental period: %s", p)
	}

	instructions := `
Respond with strict JSON only: {"description":{locale:string},"title":{locale:string},"flatmates":{locale:string},"period":{locale:string},"slug":string}.
Every object must contain each requested locale. The slug is a short lowercase English summary using hyphens, without the city.`
	return prompt + extra.String() + "\n" + instructions
}

// fillLocales 保证每个语言都有 key，英文缺失时使用原文。
func fillLocales(in map[string]string, locales []string, english string) map[string]string {
	out := make(map[string]string, len(locales))
	for _, l := range locales {
		out[l] = strings.TrimSpace(in[l])
	}
	if out[model.DefaultLocale] == "" {
		out[model.DefaultLocale] = strings.TrimSpace(english)
	}
	return out
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// HTMLToText 将富文本编辑器产生的 HTML 转为纯文本，块级元素换行。
func HTMLToText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(html.UnescapeString(s))
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return collapseBlankLines(b.String())
			}
			return strings.TrimSpace(s)
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "h1", "h2", "h3", "h4", "ul", "ol", "tr":
				b.WriteByte('\n')
			case "li":
				if tt == html.StartTagToken {
					b.WriteString("\n- ")
				}
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

type llmReformat struct {
	Description map[string]string `json:"description"`
	Title       map[string]string `json:"title"`
	Flatmates   map[string]string `json:"flatmates"`
	Period      map[string]string `json:"period"`
	Slug        string            `json:"slug"`
}

const defaultSystemPrompt = "You are a copywriter for a room rental platform. You rewrite landlord descriptions into clear, friendly listings and translate them faithfully."

const defaultPrompt = `Rewrite the following room listing description in a clear, well-structured way and translate it into these locales: {{LOCALES}}.
The room is located in {{CITY}}. Keep all facts, do not invent details.
Description:
{{TEXT}}`
