package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`

	// Scheduler controls the trigger loop (one cron entry per reminder).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of firings. If omitted, defaults apply
	// and the engine follows scheduler.enabled.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	HTTP     HTTPConfig      `json:"http"`
	MCP      MCPConfig       `json:"mcp"`
	Pprof    PprofConfig     `json:"pprof"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Stderr is forced on in MCP stdio mode.
	Stderr bool        `json:"stderr,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RemindersConfig holds domain defaults.
type RemindersConfig struct {
	// DefaultTimezone is applied when a request omits one. IANA name.
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone of housekeeping schedules. Reminder jobs carry their own zone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "30s"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3 (0 disables retries)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int  `json:"history_size,omitempty"`
	RetryMax    *int `json:"retry_max,omitempty"`
}

// NotifierConfig controls email delivery of reminder notices.
// If the whole section is omitted the notifier is enabled and runs degraded
// (logs only) until SMTP credentials are supplied.
type NotifierConfig struct {
	Enabled     bool       `json:"enabled"`
	SMTP        SMTPConfig `json:"smtp"`
	RatePerSec  int        `json:"rate_per_sec,omitempty"`
	HistorySize int        `json:"history_size,omitempty"`
	DedupWindow string     `json:"dedup_window,omitempty"`
}

type SMTPConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password"` // never logged
	FromName    string `json:"from_name,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// StorageConfig selects the Reminder Store backend.
//
// Example:
//
//	"storage": { "driver": "mongo", "uri": "mongodb://localhost:27017", "database": "Users" }
type StorageConfig struct {
	Driver         string `json:"driver"`
	Path           string `json:"path,omitempty"`
	URI            string `json:"uri,omitempty"` // may embed credentials; never logged
	Database       string `json:"database,omitempty"`
	Collection     string `json:"collection,omitempty"`
	DSN            string `json:"dsn,omitempty"` // never logged
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	OpTimeout      string `json:"op_timeout,omitempty"`
	BusyTimeout    string `json:"busy_timeout,omitempty"` // sqlite
}

// HTTPConfig controls the operator REST API.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:8000"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// MCPConfig controls the tool server exposed over stdio.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"`
}

// PprofConfig controls the optional profiling listener. A non-loopback addr
// needs a token unless allow_insecure is set.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token                string `json:"token,omitempty"` // never logged
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Reminders: RemindersConfig{DefaultTimezone: "Asia/Kolkata"},
		Scheduler: SchedulerConfig{Enabled: true},
		Notifier:  &NotifierConfig{Enabled: true},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./medremind.db"},
		HTTP:      HTTPConfig{Enabled: true, Addr: "127.0.0.1:8000"},
		MCP:       MCPConfig{Enabled: true, Name: "medremind"},
		Pprof:     PprofConfig{Addr: "127.0.0.1:6060"},
	}
}
