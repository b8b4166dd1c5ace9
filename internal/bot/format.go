package bot

import (
	"html"
	"strconv"
	"strings"
)

const maxOutput = 3500

// IDR formats an amount as rupiah with dot thousands separators.
func IDR(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "Rp" + b.String()
}

func Escape(s string) string {
	return html.EscapeString(s)
}

// Pre wraps command output in a <pre> block, truncated to fit a chat message.
func Pre(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "(no output)"
	}
	if len(s) > maxOutput {
		s = s[:maxOutput] + "\n…"
	}
	return "<pre>" + html.EscapeString(s) + "</pre>"
}
