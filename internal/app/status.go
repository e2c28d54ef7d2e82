package app

import (
	"context"
	"time"

	"medremind/internal/notifier"
	"medremind/internal/runtime/supervisor"
	"medremind/internal/task/engine"
	"medremind/internal/task/scheduler"
)

type StoreStatus struct {
	Driver string `json:"driver"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type NotifierStatus struct {
	Degraded bool                   `json:"degraded"`
	History  []notifier.HistoryItem `json:"history"`
}

// Status is the operator view served at /status.
type Status struct {
	Agent      string               `json:"agent"`
	Status     string               `json:"status"`
	At         time.Time            `json:"at"`
	Store      StoreStatus          `json:"store"`
	Scheduler  scheduler.Snapshot   `json:"scheduler"`
	Engine     engine.Snapshot      `json:"engine"`
	Notifier   NotifierStatus       `json:"notifier"`
	Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`
	PprofAddr  string               `json:"pprof_addr,omitempty"`
}

// Health pings the store. It reports "healthy" or "degraded".
func (a *App) Health(ctx context.Context) (string, StoreStatus) {
	st := StoreStatus{Driver: a.storeDriver, OK: true}
	err := a.reminders.Ping(ctx)
	if err != nil {
		st.OK = false
		st.Error = err.Error()
	}
	a.observeStore(ctx, err)
	if !st.OK {
		return "degraded", st
	}
	return "healthy", st
}

func (a *App) Status(ctx context.Context) Status {
	health, store := a.Health(ctx)
	s := Status{
		Agent:     Agent,
		Status:    health,
		At:        time.Now().UTC(),
		Store:     store,
		Scheduler: a.sched.Snapshot(),
		Engine:    a.engine.Snapshot(),
		Notifier: NotifierStatus{
			Degraded: a.notif.Degraded(),
			History:  a.notif.History(),
		},
		PprofAddr: a.pprof.Addr(),
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		s.Supervisor = &snap
	}
	return s
}
