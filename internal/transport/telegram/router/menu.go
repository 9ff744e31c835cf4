package router

import (
	"strings"
	"unicode"

	"taskboard/internal/transport"
)

// sanitizeCommand maps a name to Telegram's [a-z0-9_]{1,32} command syntax.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// buildMenu lists commands for the Telegram menu; owner-only ones get a lock.
func buildMenu(cmds []Command) []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}
