package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: file-token
  owner_user_ids: [1, 2]
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/taskboard.db
  busy_timeout: 5s
engine:
  external_timeout: 3s
  sweep: "@every 1m"
notifier:
  workers: 2
  broadcast_ttl: 1h
audit:
  channels:
    started: -1001
boards:
  dir: ./boards
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLWithEnvOverlay(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnviron(map[string]string{
		"TASKBOARD_TELEGRAM_TOKEN": "env-token",
		"TASKBOARD_BOARDS_DIR":     "/etc/taskboard/boards",
	})

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	require.Equal(t, "/etc/taskboard/boards", cfg.Boards.Dir)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, int64(-1001), cfg.Audit.Channels.Started)
	require.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.yaml", []byte("boards: {dir: x}\nplugins: {}\n"))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"boards":{"dir":"x"}} {}`))
	require.ErrorContains(t, err, "trailing data")
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage: StorageConfig{Driver: "postgres", BusyTimeout: "soon"},
		Engine:  EngineConfig{Sweep: "every minute", ExternalTimeout: "-1s"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"storage.dsn", "engine.sweep", "boards.dir"} {
		require.ErrorContains(t, err, want)
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\n"), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, changed, "whitespace-only edits hash the same")

	updated := sampleYAML[:len(sampleYAML)-len("  dir: ./boards\n")] + "  dir: ./other\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	got := <-ch
	require.Equal(t, "./other", got.Boards.Dir)
}

func TestReloadHonoursValidator(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(context.Context, *Config) error { return os.ErrPermission })

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"engine_extra: 1\n"), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML[:len(sampleYAML)-len("  dir: ./boards\n")]+"  dir: ./b2\n"), 0o600))
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, os.ErrPermission)
	require.Equal(t, "./boards", m.Get().Boards.Dir)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	prev := &Config{Telegram: TelegramConfig{Token: "a"}, Boards: BoardsConfig{Dir: "x"}}
	next := &Config{Telegram: TelegramConfig{Token: "b"}, Boards: BoardsConfig{Dir: "y"}, Engine: EngineConfig{Sweep: "off"}}

	changed, _ := Summarize(prev, next)
	require.ElementsMatch(t, []string{"telegram", "boards", "engine"}, changed)
	require.True(t, RequiresRestart(changed))
	require.False(t, RequiresRestart([]string{"logging"}))
}
