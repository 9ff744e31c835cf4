// Package debughttp serves /healthz and the net/http/pprof handlers on an
// optional side port.
package debughttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "taskboard/internal/runtime/supervisor"
	logx "taskboard/pkg/logx"
)

const (
	defaultAddr = "127.0.0.1:6060"
	pprofPrefix = "/debug/pprof/"
)

var ErrInsecureBind = errors.New("debug server refused to start: non-loopback addr requires token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

// HealthFunc reports nil while the process is healthy.
type HealthFunc func(ctx context.Context) error

type Server struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	health HealthFunc
	sup    *rtsup.Supervisor
}

func New(cfg Config, health HealthFunc, log logx.Logger) *Server {
	return &Server{cfg: cfg, health: health, log: log.With(logx.String("comp", "debughttp"))}
}

// Reconfigure starts, stops or restarts the server to match cfg.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			_ = s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		_ = s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is a no-op when disabled or already running.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	cfg := s.cfg
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", func(c context.Context) error {
		return s.serveOnce(c, cfg)
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithMaxRestarts(5),
	)
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("debug server stopped")
	return err
}

func (s *Server) serveOnce(ctx context.Context, cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			s.log.Error("debug server refused to start", logx.String("addr", addr))
			return ErrInsecureBind
		}
		s.log.Warn("debug server running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler builds the mux. An empty token disables auth.
func (s *Server) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
	mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
	mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
