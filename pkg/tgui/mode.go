package tgui

import "strings"

// Mode is a Telegram parse mode.
type Mode string

const (
	ModeHTML       Mode = "HTML"
	ModeMarkdownV2 Mode = "MarkdownV2"
)

// ParseMode normalizes a configured parse mode. Unknown or empty values map to HTML.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdownv2", "markdown_v2", "mdv2":
		return ModeMarkdownV2
	default:
		return ModeHTML
	}
}

// Esc escapes plain text so it renders literally in this mode.
func (m Mode) Esc(s string) string {
	if m == ModeMarkdownV2 {
		return EscMD(s)
	}
	return Esc(s).String()
}

// Bold escapes s and renders it bold.
func (m Mode) Bold(s string) string {
	if m == ModeMarkdownV2 {
		return "*" + EscMD(s) + "*"
	}
	return B(s).String()
}

// Italic escapes s and renders it italic.
func (m Mode) Italic(s string) string {
	if m == ModeMarkdownV2 {
		return "_" + EscMD(s) + "_"
	}
	return I(s).String()
}
