package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.trai.ch/zerr"

	logx "taskboard/pkg/logx"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	validateTimeout    = 5 * time.Second
	watchBackoffBase   = 250 * time.Millisecond
	watchBackoffMax    = 5 * time.Second
	subscriberDropNote = "config update dropped (subscriber slow)"
)

// Manager owns the current config and republishes it when the file changes.
type Manager struct {
	path    string
	environ map[string]string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager { return &Manager{path: path} }

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetEnviron replaces the process environment for the TASKBOARD_* overlay.
func (m *Manager) SetEnviron(environ map[string]string) { m.environ = environ }

// SetValidator installs the hook Watch runs before committing a reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the file, then applies the env overlay.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read config"), "path", m.path)
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, zerr.With(err, "path", m.path)
	}
	if err := applyEnv(cfg, m.environ); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses raw as YAML or JSON depending on name's extension.
// Unknown keys and trailing documents are rejected.
func Decode(name string, raw []byte) (*Config, error) {
	jb, err := toJSON(name, raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, zerr.Wrap(err, "decode config")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, zerr.New("invalid config: trailing data")
		}
		return nil, zerr.Wrap(err, "decode config")
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, Hash(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg = cfg
	m.hash = h
	m.mu.Unlock()
}

// Hash fingerprints the decoded config. Formatting-only edits hash the same.
func Hash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		last := len(m.subs) - 1
		m.subs[i] = m.subs[last]
		m.subs = m.subs[:last]
		close(ch)
		return
	}
}

// publish delivers the newest config to every subscriber. A full buffer
// loses its oldest entry so slow readers still converge on the latest.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug(subscriberDropNote, logx.Int("queue_cap", cap(ch)))
		}
	}
}

// Reload parses, validates and publishes the file if its content changed.
// It reports whether a new config was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := Hash(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := Validate(cfg); err != nil {
		return false, err
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, err
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	return true, nil
}

// Watch follows the config file until ctx ends. The directory is watched
// (editors replace files by rename) and the watcher is recreated with
// jittered backoff if fsnotify breaks.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			changed, err := m.Reload(ctx)
			switch {
			case err != nil:
				m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
			case changed:
				m.log.Info("config reloaded", logx.String("path", m.path))
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, watchBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}

		backoff = watchBackoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		m.follow(ctx, w, file, schedule)
		_ = w.Close()

		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !wait() {
			return nil
		}
	}
	return nil
}

// follow pumps watcher events until ctx ends or the watcher breaks.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, file string, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			if err == fsnotify.ErrEventOverflow {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
