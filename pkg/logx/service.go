package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level    string
	Console  bool
	JSON     bool // console emits raw JSON instead of the pretty format
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Sender delivers a rendered log line to a chat.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

// Service owns the active sinks. Apply swaps them without invalidating
// Loggers handed out earlier.
type Service struct {
	mu   sync.Mutex
	root atomic.Pointer[zerolog.Logger]
	file *os.File

	sender  Sender
	queue   chan string
	start   sync.Once
	stop    context.CancelFunc
	done    chan struct{}
	chatID  int64
	thread  int
	minLvl  zerolog.Level
	limiter *rate.Limiter
}

// New applies cfg and returns the service with a live root logger.
// sender may be nil; the Telegram sink is then inert.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{sender: sender, queue: make(chan string, 256), done: make(chan struct{})}
	boot := zerolog.New(consoleWriter(os.Stdout)).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetSender attaches the chat sender once the transport is up.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply rebuilds the sink fan-out. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatID = cfg.Telegram.ChatID
	s.thread = cfg.Telegram.ThreadID
	s.minLvl = ParseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := cfg.Telegram.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, consoleWriter(os.Stdout))
		}
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./taskboard.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.stop = cancel
			go s.drain(ctx)
		})
		writers = append(writers, chatWriter{s})
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-s.done
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) drain(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			s.mu.Lock()
			sender, chat, thread := s.sender, s.chatID, s.thread
			s.mu.Unlock()
			if sender == nil || chat == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = sender.SendLog(sctx, chat, thread, text)
			cancel()
		}
	}
}

type chatWriter struct{ s *Service }

func (w chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.s
	s.mu.Lock()
	minLvl, lim, chat := s.minLvl, s.limiter, s.chatID
	s.mu.Unlock()

	if chat == 0 || level < minLvl || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := renderLine(p); text != "" {
		select {
		case s.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// renderLine turns a zerolog JSON line into a compact chat message.
func renderLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
