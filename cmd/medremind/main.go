// Medremind: daily medication reminders over MCP and HTTP.
//
// Usage:
//
//	medremind serve [-config path]   # MCP server on stdio
//	medremind run   [-config path]   # daemon with the HTTP API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"medremind/internal/app"
	"medremind/internal/config"
	"medremind/internal/httpapi"
	"medremind/internal/mcptools"
	logx "medremind/pkg/logx"
)

const stopTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "serve", "run":
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Printf("medremind %s\n", mcptools.Version)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "./config.json", "path to config file (json or yaml)")
	_ = fs.Parse(os.Args[2:])

	var err error
	if cmd == "serve" {
		err = serve(*cfgPath)
	} else {
		err = run(*cfgPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `medremind - daily medication reminders

USAGE:
    medremind serve [-config path]   Start the MCP server on stdio
    medremind run   [-config path]   Run as a daemon with the HTTP API
    medremind version                Print the version

ENVIRONMENT:
    MEDREMIND_<SECTION>_<KEY>   overrides a config key, e.g. MEDREMIND_STORAGE_URI
    SMTP_SERVER, SMTP_PORT, EMAIL_USER, EMAIL_PASSWORD,
    MONGODB_URI, MONGODB_DB_NAME, DEFAULT_TIMEZONE, API_HOST, API_PORT
`)
}

// signals returns a context cancelled on SIGINT or SIGTERM and a func that
// reports which one arrived.
func signals() (context.Context, func() app.StopReason, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	reason := make(chan app.StopReason, 1)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			if sig == syscall.SIGTERM {
				reason <- app.StopSIGTERM
			} else {
				reason <- app.StopSIGINT
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	get := func() app.StopReason {
		select {
		case r := <-reason:
			return r
		default:
			return app.StopUnknown
		}
	}
	return ctx, get, func() {
		signal.Stop(ch)
		cancel()
	}
}

func stop(a *app.App, reason app.StopReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return a.Stop(ctx, reason)
}

// serve runs the MCP stdio transport. Logs go to stderr so stdout stays
// reserved for protocol frames.
func serve(cfgPath string) error {
	ctx, sigReason, cancel := signals()
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath, app.WithStderrLogging())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = stop(a, app.StopFatalError)
		return err
	}

	if !a.Config().MCP.Enabled {
		_ = stop(a, app.StopFatalError)
		return errors.New("mcp is disabled in config (mcp.enabled=false)")
	}
	s := mcptools.NewServer(a.Config().MCP.Name, a.Reminders())
	stdio := server.NewStdioServer(s)

	errCh := make(chan error, 1)
	go func() { errCh <- stdio.Listen(ctx, os.Stdin, os.Stdout) }()

	reason := app.StopStdinClosed
	var serveErr error
	select {
	case serveErr = <-errCh:
		if ctx.Err() != nil {
			reason = sigReason()
			serveErr = nil
		} else if serveErr != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
		reason = sigReason()
	case <-a.Done():
		reason = app.StopFatalError
		serveErr = a.Err()
	}

	if err := stop(a, reason); err != nil {
		a.Logger().Warn("stop incomplete", logx.Err(err))
	}
	return serveErr
}

// run keeps the scheduler alive and serves the HTTP API when enabled.
func run(cfgPath string) error {
	ctx, sigReason, cancel := signals()
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = stop(a, app.StopFatalError)
		return err
	}

	errCh := make(chan error, 1)
	cfg := a.Config()
	if cfg.HTTP.Enabled {
		hc, err := httpConfig(cfg.HTTP)
		if err != nil {
			_ = stop(a, app.StopFatalError)
			return err
		}
		srv := httpapi.New(hc, a.Reminders(), a, a.Logger().With(logx.String("comp", "httpapi")))
		go func() { errCh <- srv.Serve(ctx) }()
	}

	reason := app.StopUnknown
	var runErr error
	select {
	case <-ctx.Done():
		reason = sigReason()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			reason = app.StopFatalError
			runErr = fmt.Errorf("http api: %w", err)
		}
	case <-a.Done():
		reason = app.StopFatalError
		runErr = a.Err()
	}

	if err := stop(a, reason); err != nil {
		a.Logger().Warn("stop incomplete", logx.Err(err))
	}
	return runErr
}

func httpConfig(h config.HTTPConfig) (httpapi.Config, error) {
	read, err := config.ParseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{Addr: h.Addr, ReadTimeout: read, WriteTimeout: write}, nil
}
