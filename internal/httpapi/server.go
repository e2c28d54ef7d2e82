// Package httpapi serves the operator REST surface: health, status and the
// reminder operations.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"medremind/internal/app"
	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Operations is the subset of *reminder.Service the handlers call.
type Operations interface {
	Schedule(ctx context.Context, req reminder.ScheduleRequest) reminder.Outcome[reminder.Scheduled]
	Cancel(ctx context.Context, address, medication string) reminder.Outcome[reminder.CancelReport]
	ListFor(ctx context.Context, address string) reminder.Outcome[[]reminder.Entry]
	ListActive() reminder.Outcome[[]reminder.ActiveJob]
	Purge(ctx context.Context, address string) reminder.Outcome[reminder.PurgeReport]
}

// Monitor reports process health. *app.App implements it.
type Monitor interface {
	Health(ctx context.Context) (string, app.StoreStatus)
	Status(ctx context.Context) app.Status
}

type Server struct {
	cfg Config
	e   *echo.Echo
	log logx.Logger
}

func New(cfg Config, ops Operations, mon Monitor, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	h := &handler{ops: ops, mon: mon, log: log}
	e.GET("/health", h.health)
	e.GET("/status", h.status)
	e.GET("/jobs", h.listActive)
	e.GET("/reminders", h.listFor)
	e.POST("/reminders", h.schedule)
	e.DELETE("/reminders", h.cancel)

	return &Server{cfg: cfg, e: e, log: log}
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Serve blocks until the listener fails or ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errCh <- s.e.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("http api shutting down")
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(log logx.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("path", v.URIPath),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("http request failed", append(fields, logx.Err(v.Error))...)
				return nil
			}
			log.Debug("http request", fields...)
			return nil
		},
	})
}
