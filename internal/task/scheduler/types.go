package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medremind/internal/task/engine"
	logx "medremind/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled bool
	// Timezone is the fallback location for specs without a CRON_TZ prefix.
	Timezone string
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Enqueuer accepts firings for execution. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	id            string
	name          string
	spec          string
	timezone      string
	timeout       time.Duration
	job           func(ctx context.Context) error
	entryID       cron.EntryID
	every         time.Duration
	startupSpread time.Duration
	opt           TaskOptions
	state         *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// ScheduleInfo describes one registered trigger.
type ScheduleInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timezone string        `json:"timezone,omitempty"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
