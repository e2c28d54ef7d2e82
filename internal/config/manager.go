package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "medremind/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	watchBackoffMin  = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
	validatorTimeout = 5 * time.Second
)

// ConfigManager owns the committed config and republishes it when the file
// on disk changes and the new content validates.
type ConfigManager struct {
	path    string
	environ func() []string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, environ: os.Environ, log: logx.Nop()}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator adds a check run on reload, after Validate and before the new
// config is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the config file (defaults when it does not exist), decodes it
// strictly and applies the environment overlay on top.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.log.Debug("config file not found; using defaults", logx.String("path", m.path))
	case err != nil:
		return nil, err
	default:
		if err := decodeStrict(m.path, b, cfg); err != nil {
			return nil, err
		}
	}
	environ := m.environ
	if environ == nil {
		environ = os.Environ
	}
	return overlayEnv(cfg, environ())
}

// decodeStrict fills cfg from JSON or YAML. Unknown keys and trailing
// documents are errors.
func decodeStrict(path string, b []byte, cfg *Config) error {
	format := "json"
	if isYAML(path) {
		format = "yaml"
		var err error
		if b, err = yamlToJSON(b); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s config: %w", format, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return nil
	case err == nil:
		return fmt.Errorf("%s config: trailing data", format)
	default:
		return fmt.Errorf("%s config: %w", format, err)
	}
}

// Load parses and validates the config and commits it as current.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers cfg to every subscriber. A full subscriber loses its
// oldest pending config; readers only care about the latest.
func (m *ConfigManager) publish(cfg *Config) {
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
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload re-reads the file and commits and publishes it when it changed and
// passes validation. It reports whether a new config was published.
func (m *ConfigManager) reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
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
		vctx, cancel := context.WithTimeout(ctx, validatorTimeout)
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

// Watch reloads the config whenever its file changes until ctx is done. A
// broken watcher is recreated with a jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			published, err := m.reload(ctx)
			switch {
			case err != nil:
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			case published:
				m.log.Debug("config published", logx.String("path", m.path))
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

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffMin
	for {
		healthy, err := m.watchOnce(ctx, trigger)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			backoff = watchBackoffMin
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Duration("backoff", wait), logx.Err(err))
		backoff = min(backoff*2, watchBackoffMax)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher on the config directory until it
// breaks or ctx is done. healthy reports whether the watcher got started.
func (m *ConfigManager) watchOnce(ctx context.Context, trigger func()) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()

	// Editors often replace the file, so the directory is watched.
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				trigger()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
