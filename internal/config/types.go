package config

// Config is the on-disk shape of config.yaml (or .json). Durations are Go
// duration strings and are parsed by the consumers via ParseDurationField.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
	Notifier NotifierConfig `json:"notifier"`
	Audit    AuditConfig    `json:"audit"`
	Boards   BoardsConfig   `json:"boards"`
	Debug    DebugConfig    `json:"debug"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives mirrored warnings and errors.
	GroupLog    int64  `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the execution store.
//
//	storage: { driver: sqlite, path: ./data/taskboard.db, busy_timeout: 5s }
//	storage: { driver: postgres, dsn: postgres://... }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// EngineConfig tunes the execution engine.
//
// Defaults:
//   - external_timeout: 5s
//   - stale_reset_window: 5s
//   - reset_offset: 1s
//   - sweep: "@every 1m" (empty string keeps the default, "off" disables)
type EngineConfig struct {
	ExternalTimeout  string `json:"external_timeout,omitempty"`
	StaleResetWindow string `json:"stale_reset_window,omitempty"`
	ResetOffset      string `json:"reset_offset,omitempty"`
	Sweep            string `json:"sweep,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Burst         int    `json:"burst,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	BroadcastTTL  string `json:"broadcast_ttl,omitempty"`
}

// AuditConfig routes each audit kind to an optional chat.
type AuditConfig struct {
	Channels AuditChannels `json:"channels"`
}

type AuditChannels struct {
	Started          int64 `json:"started,omitempty"`
	Completed        int64 `json:"completed,omitempty"`
	CooldownComplete int64 `json:"cooldown_complete,omitempty"`
	DMSent           int64 `json:"dm_sent,omitempty"`
	Reset            int64 `json:"reset,omitempty"`
}

type BoardsConfig struct {
	Dir string `json:"dir"`
}

// DebugConfig controls the optional HTTP server exposing /healthz and
// /debug/pprof/. A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
