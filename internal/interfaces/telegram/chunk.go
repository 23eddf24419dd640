package telegram

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit Telegram 单条消息长度上限
const MessageLimit = 4096

// Chunk splits text into pieces of at most limit bytes, preferring a
// paragraph break, then a line break, then a space. Pieces never cut a rune.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	var out []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		out = append(out, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" || len(out) == 0 {
		out = append(out, text)
	}
	return out
}

func splitPoint(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= limit/3 {
			return i + len(sep)
		}
	}
	// hard cut, backed off to a rune boundary
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
