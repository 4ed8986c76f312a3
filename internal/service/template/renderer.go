package template

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Template 预先配置的模版，通知通过 TemplateID 引用
type Template struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	// ChannelContents 某些渠道需要不同的正文，比如短信要更短
	ChannelContents map[domain.Channel]string `yaml:"channelContents"`
}

func (t Template) content(channel domain.Channel) string {
	if c, ok := t.ChannelContents[channel]; ok && c != "" {
		return c
	}
	return t.Content
}

// Render 替换 {{name}} 占位符，没有提供的变量原样保留
func Render(tmpl string, vars map[string]string) (string, error) {
	if !strings.Contains(tmpl, startTag) {
		return tmpl, nil
	}
	res, err := fasttemplate.ExecuteFuncStringWithErr(tmpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[strings.TrimSpace(tag)]; ok {
			return w.Write([]byte(v))
		}
		return w.Write([]byte(startTag + tag + endTag))
	})
	if err != nil {
		return tmpl, fmt.Errorf("%w: %w", errs.ErrTemplateRender, err)
	}
	return res, nil
}

// Renderer 渲染通知的标题和正文
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewRenderer(templates ...Template) *Renderer {
	r := &Renderer{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *Renderer) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
}

// RenderNotification 返回渲染后的标题和正文。
// 出错时返回的是未渲染的原文，调用方可以继续使用
func (r *Renderer) RenderNotification(n domain.Notification, channel domain.Channel) (string, string, error) {
	title, content := n.Title, n.Message
	if n.TemplateID != "" {
		r.mu.RLock()
		t, ok := r.templates[n.TemplateID]
		r.mu.RUnlock()
		if !ok {
			return title, content, fmt.Errorf("%w: 模版 %s 不存在", errs.ErrTemplateRender, n.TemplateID)
		}
		if t.Title != "" {
			title = t.Title
		}
		content = t.content(channel)
	}

	renderedTitle, err := Render(title, n.Variables)
	if err != nil {
		return title, content, err
	}
	renderedContent, err := Render(content, n.Variables)
	if err != nil {
		return renderedTitle, content, err
	}
	return renderedTitle, renderedContent, nil
}
