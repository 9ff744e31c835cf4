package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeBoard(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestBoardsValidate(t *testing.T) {
	dir := t.TempDir()
	writeBoard(t, dir, "farm.yaml", `
guild_id: "-100"
channel_id: "-100"
title: Farm
description: Daily farm work
tasks:
  - name: Water
    duration_minutes: 20
    cooldown_minutes: 40
  - name: Harvest
    duration_minutes: 5
`)

	var out bytes.Buffer
	cli := New()
	cli.SetOutput(&out)
	cli.SetArgs([]string{"boards", "validate", dir})
	require.NoError(t, cli.Execute(context.Background()))

	require.Contains(t, out.String(), "Farm")
	require.Contains(t, out.String(), "tasks=2")
	require.Contains(t, out.String(), "1 boards OK")
}

func TestBoardsValidateRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeBoard(t, dir, "bad.yaml", "title: [unterminated\n")

	cli := New()
	cli.SetOutput(&bytes.Buffer{})
	cli.SetArgs([]string{"boards", "validate", dir})
	require.Error(t, cli.Execute(context.Background()))
}

func TestStatusNeedsTwoArgs(t *testing.T) {
	cli := New()
	cli.SetOutput(&bytes.Buffer{})
	cli.SetArgs([]string{"status", "7"})
	require.Error(t, cli.Execute(context.Background()))
}
