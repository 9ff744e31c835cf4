package router

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short id for correlating the log lines of one request.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(ridSeq.Add(1), 36)
}

// tokenize splits a command line on whitespace, honoring single and double
// quotes and backslash escapes:
//
//	/start_task "Boss Raid" now
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
		esc   bool
		open  bool
	)
	flush := func() {
		if open {
			out = append(out, buf.String())
			buf.Reset()
			open = false
		}
	}
	for _, r := range strings.TrimSpace(s) {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc, open = true, true
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			buf.WriteRune(r)
		case r == '"' || r == '\'':
			quote, open = r, true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
			open = true
		}
	}
	flush()
	return out
}

// commandWord extracts the command name from "/name@bot".
func commandWord(tok string) (string, bool) {
	if !strings.HasPrefix(tok, "/") {
		return "", false
	}
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	w = strings.ToLower(w)
	return w, w != ""
}
