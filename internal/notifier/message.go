package notifier

import (
	"strings"
	"time"

	"botwatch/internal/pkg/text"
)

// maxMessageLen is in runes, below the Telegram 4096 limit.
const maxMessageLen = 3800

// Section is one titled block of a Message.
type Section struct {
	Title string
	Lines []string
}

// Message is a structured notification rendered to Telegram Markdown.
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// Markdown renders the message; sections go into one code block and the
// result is capped at the Telegram-safe length.
func (m Message) Markdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString("*" + escape(header) + "*\n\n")
	}
	var body []string
	for _, sec := range m.Sections {
		lines := nonBlank(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var block strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			block.WriteString(fence(title) + "\n")
		}
		for _, line := range lines {
			block.WriteString("- " + fence(line) + "\n")
		}
		body = append(body, block.String())
	}
	if len(body) > 0 {
		b.WriteString("```\n")
		b.WriteString(strings.Join(body, "\n"))
		b.WriteString("```\n\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escape(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("_" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC") + "_")
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxMessageLen)
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func fence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
