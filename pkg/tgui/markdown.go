package tgui

import "strings"

// mdV2Special lists characters that must be escaped in MarkdownV2 text.
// https://core.telegram.org/bots/api#markdownv2-style
const mdV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscMD escapes text for Telegram MarkdownV2 parse mode.
func EscMD(s string) string {
	if !strings.ContainsAny(s, mdV2Special) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(mdV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
