package telegram

import (
	"strings"
	"unicode/utf8"

	"jobboard/pkg/tgui"
)

// JobSummary is the job content rendered into a channel post. Every field is optional.
type JobSummary struct {
	Title       string
	Company     string
	Location    string
	Salary      string
	Description string
}

const (
	applyButtonText = "Apply"

	// MaxPostRunes is Telegram's limit for one message text.
	MaxPostRunes = 4096
	// MaxLineRunes clips the title and each detail line before escaping.
	MaxLineRunes = 200
)

// FormatJob renders the fixed channel template. All user text is escaped for mode.
// Title and detail lines are clipped to MaxLineRunes; the description is clipped
// to limit runes and then shortened further until the escaped post fits MaxPostRunes.
func FormatJob(mode tgui.Mode, j JobSummary, limit int) string {
	title := strings.TrimSpace(j.Title)
	if title == "" {
		title = "New job"
	}

	var b strings.Builder
	b.WriteString("💼 ")
	b.WriteString(mode.Bold(tgui.TruncRunes(title, MaxLineRunes)))

	line := func(icon, v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		b.WriteString("\n")
		b.WriteString(icon)
		b.WriteString(" ")
		b.WriteString(mode.Esc(tgui.TruncRunes(v, MaxLineRunes)))
	}
	line("🏢", j.Company)
	line("📍", j.Location)
	line("💰", j.Salary)

	d := strings.TrimSpace(j.Description)
	if d == "" || limit <= 0 {
		return b.String()
	}
	room := MaxPostRunes - utf8.RuneCountInString(b.String()) - 2
	esc := mode.Esc(tgui.TruncRunes(d, limit))
	// escaping can expand text; shrink proportionally until it fits
	for n := limit; n > 0 && utf8.RuneCountInString(esc) > room; {
		n = n * room / (utf8.RuneCountInString(esc) + 1)
		esc = mode.Esc(tgui.TruncRunes(d, n))
	}
	if esc != "" && utf8.RuneCountInString(esc) <= room {
		b.WriteString("\n\n")
		b.WriteString(esc)
	}
	return b.String()
}
