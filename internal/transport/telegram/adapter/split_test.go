package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"taskboard/internal/transport"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	s := "aaaaaa\nbbbbbb\ncccccc"
	got := splitText(s, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb", "cccccc"}, got)
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()

	got := splitText(strings.Repeat("x", 25), 10, "")
	require.Len(t, got, 3)
	require.Equal(t, strings.Repeat("x", 5), got[2])
}

func TestSplitTextAvoidsDanglingTag(t *testing.T) {
	t.Parallel()

	got := splitText("abcdef<b>bold</b>", 8, "HTML")
	require.Equal(t, "abcdef", got[0])
	require.True(t, strings.HasPrefix(got[1], "<b>"))
}

func TestMenuHashChangesWithContent(t *testing.T) {
	t.Parallel()

	a := []transport.BotCommand{{Command: "tasks", Description: "List tasks"}}
	b := []transport.BotCommand{{Command: "tasks", Description: "List all tasks"}}
	require.Equal(t, menuHash(a), menuHash(a))
	require.NotEqual(t, menuHash(a), menuHash(b))
}
