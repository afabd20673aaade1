package tgui

import (
	"fmt"
	"strings"

	kit "appwatch/internal/transport"
)

// Builder collects reply lines. Defaults: ParseMode=HTML, previews off.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line with an optional emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		return b.Line(H(e+" ") + B(t))
	}
	return b.Line(B(t))
}

func (b *Builder) Line(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Textf adds an escaped formatted line.
func (b *Builder) Textf(format string, args ...any) *Builder {
	return b.Line(Esc(fmt.Sprintf(format, args...)))
}

// KV adds "<b>key:</b> value" with the value escaped.
func (b *Builder) KV(key string, value any) *Builder {
	return b.Line(B(key+":") + " " + Esc(fmt.Sprint(value)))
}

// Blank adds an empty line unless the previous one is already empty.
func (b *Builder) Blank() *Builder {
	if n := len(b.lines); n > 0 && b.lines[n-1] != "" {
		b.lines = append(b.lines, "")
	}
	return b
}

func (b *Builder) Len() int { return len(b.lines) }

func (b *Builder) Text() string {
	return strings.TrimRight(strings.Join(b.lines, "\n"), "\n")
}

func (b *Builder) Options() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}
