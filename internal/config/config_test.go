package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func manager(path string, env ...string) *ConfigManager {
	m := NewConfigManager(path)
	m.environ = func() []string { return env }
	return m
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := manager(filepath.Join(t.TempDir(), "absent.json")).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reminders.DefaultTimezone != "Asia/Kolkata" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.Scheduler.Enabled || !cfg.MCP.Enabled {
		t.Fatalf("scheduler and mcp should default on")
	}
}

func TestParseStrictJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unknown field", body: `{"storage":{"driver":"sqlite","colour":"red"}}`, wantErr: "unknown field"},
		{name: "trailing data", body: `{"logging":{"level":"info"}}{}`, wantErr: "trailing data"},
		{name: "valid", body: `{"storage":{"driver":"mongo","uri":"mongodb://db:27017"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := manager(writeFile(t, "c.json", tt.body)).Parse()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	body := `
reminders:
  default_timezone: Europe/Berlin
task_engine:
  workers: 4
  default_timeout: 20s
notifier:
  enabled: true
  smtp:
    host: smtp.example.com
    port: 587
`
	cfg, err := manager(writeFile(t, "c.yaml", body)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reminders.DefaultTimezone != "Europe/Berlin" {
		t.Fatalf("timezone = %q", cfg.Reminders.DefaultTimezone)
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 4 || cfg.TaskEngine.DefaultTimeout != "20s" {
		t.Fatalf("task_engine = %+v", cfg.TaskEngine)
	}
	if cfg.Notifier == nil || cfg.Notifier.SMTP.Port != 587 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "c.json", `{"storage":{"driver":"mongo"}}`)
	m := manager(path,
		"SMTP_SERVER=smtp.gmail.com",
		"SMTP_PORT=587",
		"EMAIL_USER=alerts@example.com",
		"EMAIL_PASSWORD=secret",
		"MONGODB_URI=mongodb://legacy:27017",
		"MONGODB_DB_NAME=Users",
		"API_PORT=9000",
		"MEDREMIND_STORAGE_URI=mongodb://prefixed:27017",
		"MEDREMIND_TASK_ENGINE_WORKERS=6",
		"MEDREMIND_NOTIFIER_SMTP_FROM_NAME=Clinic",
		"MEDREMIND_UNKNOWN_THING=x",
		"PATH=/usr/bin",
	)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.URI != "mongodb://prefixed:27017" {
		t.Fatalf("prefixed variable should win, uri = %q", cfg.Storage.URI)
	}
	if cfg.Storage.Database != "Users" || cfg.Storage.Driver != "mongo" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Notifier == nil {
		t.Fatal("notifier section should be created by env")
	}
	smtp := cfg.Notifier.SMTP
	if smtp.Host != "smtp.gmail.com" || smtp.Port != 587 || smtp.Username != "alerts@example.com" || smtp.Password != "secret" {
		t.Fatalf("smtp = %+v", smtp)
	}
	if smtp.FromName != "Clinic" {
		t.Fatalf("from_name = %q", smtp.FromName)
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 6 {
		t.Fatalf("task_engine = %+v", cfg.TaskEngine)
	}
	if cfg.HTTP.Addr != "0.0.0.0:9000" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad default timezone", mutate: func(c *Config) { c.Reminders.DefaultTimezone = "Mars/Olympus" }, wantErr: "reminders.default_timezone"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "unknown driver"},
		{name: "negative workers", mutate: func(c *Config) { c.TaskEngine = &TaskEngineConfig{Workers: -1} }, wantErr: "task_engine.workers"},
		{name: "bad duration", mutate: func(c *Config) { c.Storage.OpTimeout = "soon" }, wantErr: "storage.op_timeout"},
		{name: "http without addr", mutate: func(c *Config) { c.HTTP = HTTPConfig{Enabled: true} }, wantErr: "http.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	m := manager(writeFile(t, "c.json", `{"reminders":{"default_timezone":"Nowhere/Land"}}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Get() != nil {
		t.Fatal("invalid config must not be committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Storage.URI = "mongodb://user:pw@db"
	newCfg.Notifier = &NotifierConfig{Enabled: true, SMTP: SMTPConfig{Password: "x"}}

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,notifier,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if len(restart) != 1 || restart[0] != "storage" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("set: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
}

func TestParseYAMLRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()
	body := "storage:\n  driver: sqlite\n  driver: mongo\n"
	_, err := manager(writeFile(t, "c.yml", body)).Parse()
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("err = %v, want duplicate key on line 3", err)
	}
}

func TestParseYAMLAnchorsAndUnknownKeys(t *testing.T) {
	t.Parallel()
	body := `
timeouts: &t 7s
`
	if _, err := manager(writeFile(t, "c.yaml", body)).Parse(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field", err)
	}

	body = `
reminders:
  default_timezone: &tz UTC
scheduler:
  timezone: *tz
`
	cfg, err := manager(writeFile(t, "c.yaml", body)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("alias not resolved: %q", cfg.Scheduler.Timezone)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "c.json", `{"reminders":{"default_timezone":"UTC"}}`)
	m := manager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if published, err := m.reload(ctx); err != nil || published {
		t.Fatalf("unchanged file: published=%v err=%v", published, err)
	}

	if err := os.WriteFile(path, []byte(`{"reminders":{"default_timezone":"Europe/Paris"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if published, err := m.reload(ctx); err != nil || !published {
		t.Fatalf("changed file: published=%v err=%v", published, err)
	}
	if got := (<-sub).Reminders.DefaultTimezone; got != "Europe/Paris" {
		t.Fatalf("published tz = %q", got)
	}

	if err := os.WriteFile(path, []byte(`{"reminders":{"default_timezone":"Mars/Base"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.reload(ctx); err == nil {
		t.Fatal("invalid timezone should be rejected")
	}
	if got := m.Get().Reminders.DefaultTimezone; got != "Europe/Paris" {
		t.Fatalf("rejected config was committed: %q", got)
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("runtime says no") })
	if err := os.WriteFile(path, []byte(`{"reminders":{"default_timezone":"Asia/Tokyo"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.reload(ctx); err == nil || !strings.Contains(err.Error(), "runtime says no") {
		t.Fatalf("validator err = %v", err)
	}
}

func TestParseDurationErrors(t *testing.T) {
	t.Parallel()
	_, err := ParseDurationField("storage.op_timeout", "soon")
	if err == nil || !strings.Contains(err.Error(), "storage.op_timeout") {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(func() error { _, e := ParseDurationField("x", "-2s"); return e }(), errNegativeDuration) {
		t.Fatal("negative duration should wrap errNegativeDuration")
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero falls back to default: %v %v", d, err)
	}
}
