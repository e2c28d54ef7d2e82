// Package pprof runs the optional profiling listener next to the reminder
// daemon. It is reconfigured in place on config reload.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	rtsup "medremind/internal/runtime/supervisor"
	logx "medremind/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string // bound address while serving
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "pprof"))}
}

// Running reports whether the serve loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Addr is the bound listener address, empty when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the listener as
// needed. Profiling rates apply even when the listener stays off.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Token != cfg.Token || prev.AllowInsecure != cfg.AllowInsecure:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start is idempotent. The listener runs under its own supervisor so a bind
// failure never cancels the app.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	applyRuntimeRates(s.cfg)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("pprof.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.addr = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("pprof refused to start", logx.String("addr", addr))
			// Retrying cannot fix the bind policy.
			return nil
		}
		s.log.Warn("pprof running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           Handler(cur.Token),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	}()

	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.addr = nil, ""
	}
	s.mu.Unlock()

	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler mounts the pprof endpoints under /debug/pprof. With a token set,
// requests need "Authorization: Bearer <token>" or "?token=<token>".
func Handler(token string) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	g := e.Group("/debug/pprof")
	if tok := strings.TrimSpace(token); tok != "" {
		g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup:  "header:" + echo.HeaderAuthorization + ",query:token",
			AuthScheme: "Bearer",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(tok)) == 1, nil
			},
		}))
	}
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.Match([]string{http.MethodGet, http.MethodPost}, "/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	// Index also serves named profiles such as /debug/pprof/heap.
	g.GET("/*", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
	return e
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
