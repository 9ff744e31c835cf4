package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskboard/internal/boards"
	"taskboard/internal/config"
	"taskboard/internal/task"
	"taskboard/internal/task/engine"
	logx "taskboard/pkg/logx"
)

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Engine: config.EngineConfig{ExternalTimeout: "3s", ResetOffset: "2s"}}
	ec, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, ec.ExternalTimeout)
	require.Equal(t, 2*time.Second, ec.ResetOffset)
	require.Zero(t, ec.StaleResetWindow)

	cfg.Engine.StaleResetWindow = "soon"
	_, err = mapEngineConfig(cfg)
	require.Error(t, err)
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	nc, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{
		Workers: 3, RatePerSec: 10, RetryBase: "250ms", BroadcastTTL: "30m",
	}})
	require.NoError(t, err)
	require.Equal(t, 3, nc.Workers)
	require.Equal(t, 250*time.Millisecond, nc.RetryBase)
	require.Equal(t, 30*time.Minute, nc.BroadcastTTL)
}

func TestSweepSpec(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultSweep, sweepSpec(&config.Config{}))
	require.Equal(t, "", sweepSpec(&config.Config{Engine: config.EngineConfig{Sweep: "off"}}))
	require.Equal(t, "@every 5m", sweepSpec(&config.Config{Engine: config.EngineConfig{Sweep: "@every 5m"}}))
}

func TestAuditChannelsRouteResetAllWithReset(t *testing.T) {
	t.Parallel()

	ch := auditChannels(&config.Config{Audit: config.AuditConfig{Channels: config.AuditChannels{Reset: -5, Started: -6}}})
	require.Equal(t, int64(-5), ch[task.AuditReset])
	require.Equal(t, int64(-5), ch[task.AuditResetAll])
	require.Equal(t, int64(-6), ch[task.AuditStarted])
	require.Zero(t, ch[task.AuditDMSent])
}

func TestMapLogConfigCarriesGroupLog(t *testing.T) {
	t.Parallel()

	lc := mapLogConfig(&config.Config{
		Telegram: config.TelegramConfig{GroupLog: -77},
		Logging:  config.LoggingConfig{Level: "debug", Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 4}},
	})
	require.Equal(t, "debug", lc.Level)
	require.True(t, lc.Telegram.Enabled)
	require.Equal(t, int64(-77), lc.Telegram.ChatID)
	require.Equal(t, 4, lc.Telegram.ThreadID)
}

func TestMapDebugConfigTrims(t *testing.T) {
	t.Parallel()

	dc := mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: " 127.0.0.1:7070 ", Token: " t "}})
	require.True(t, dc.Enabled)
	require.Equal(t, "127.0.0.1:7070", dc.Addr)
	require.Equal(t, "t", dc.Token)
}

func TestCoreOfflineResetAll(t *testing.T) {
	dir := t.TempDir()
	boardsDir := filepath.Join(dir, "boards")
	require.NoError(t, os.MkdirAll(boardsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(boardsDir, "farm.yaml"), []byte(`
guild_id: "-100"
channel_id: "-100"
title: Farm
description: Daily farm work
tasks:
  - name: Water
    duration_minutes: 20
    cooldown_minutes: 40
`), 0o644))

	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "data", "taskboard")},
		Boards:  config.BoardsConfig{Dir: boardsDir},
	}
	ctx := context.Background()

	core, err := OpenCore(ctx, cfg, logx.Nop(), nil, nil)
	require.NoError(t, err)
	taskID := boards.TaskID("farm", "Water")
	_, err = core.Engine.Start(ctx, engine.StartRequest{ActorID: "9", TaskID: taskID, GuildID: "-100", ChannelID: "-100"})
	require.NoError(t, err)
	require.NoError(t, core.Close(ctx))

	// A second process sees the running execution and resets it.
	core, err = OpenCore(ctx, cfg, logx.Nop(), nil, nil)
	require.NoError(t, err)
	defer core.Close(ctx)

	v, err := core.Engine.CheckStatus(ctx, "9", taskID, "-100")
	require.NoError(t, err)
	require.Equal(t, task.StateRunning, v.State)

	res, err := core.Engine.ResetAll(ctx, "cli")
	require.NoError(t, err)
	require.Equal(t, 1, res.CancelledExecutions)

	v, err = core.Engine.CheckStatus(ctx, "9", taskID, "-100")
	require.NoError(t, err)
	require.Equal(t, task.StateAvailable, v.State)

	events, err := core.Store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, task.AuditResetAll, events[0].Kind)
}
