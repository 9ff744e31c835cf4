package adapter

import "strings"

// textLimit stays below Telegram's 4096 rune cap.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries. With HTML parse mode it avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if cut := lastNewline(rs, start, end, limit/3); cut > 0 {
				end = cut
			}
			if html {
				if open := danglingTag(rs, start, end); open > start+1 {
					end = open
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastNewline returns the index after the last newline in rs[start:end] that
// leaves a chunk of at least minLen runes, or -1.
func lastNewline(rs []rune, start, end, minLen int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= minLen {
			return i + 1
		}
	}
	return -1
}

// danglingTag returns the index of a '<' in rs[start:end] with no closing
// '>' after it, or -1.
func danglingTag(rs []rune, start, end int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose {
		return lastOpen
	}
	return -1
}
