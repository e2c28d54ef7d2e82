package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medremind/internal/reminder"
	"medremind/internal/task/engine"
	logx "medremind/pkg/logx"
	"medremind/pkg/systemd"
)

// Housekeeping schedule names carry no ':' so they never read as reminder jobs.
const storePingSchedule = "housekeeping.store_ping"

// bootstrap restores every stored reminder into the job table and arms the
// store health check. A store read failure is logged and the scheduler runs
// with whatever could be armed; the health check restores the rest once the
// store answers.
func (a *App) bootstrap(ctx context.Context) {
	armed, err := a.reminders.Reconcile(ctx)
	if err != nil {
		a.log.Warn("reconciliation incomplete", logx.Int("armed", armed), logx.Err(err))
	}
	if errors.Is(err, reminder.ErrStoreUnavailable) {
		a.storeHealthy.Store(false)
		a.sdStatus("store unreachable; no reminders armed")
	} else {
		a.sdStatus(fmt.Sprintf("%d reminders armed", armed))
	}

	if _, err := a.sched.AddInterval(storePingSchedule, a.opt.housekeepEvery, 10*time.Second, a.pingStore); err != nil {
		a.log.Warn("store health check not scheduled", logx.Err(err))
	}
}

func (a *App) pingStore(ctx context.Context) error {
	err := a.reminders.Ping(ctx)
	a.observeStore(ctx, err)
	// The next tick is the retry.
	return engine.NoRetry(err)
}

// observeStore records the outcome of a store check. When the store comes
// back, stored reminders are armed again.
func (a *App) observeStore(ctx context.Context, err error) {
	was := a.storeHealthy.Swap(err == nil)
	switch {
	case err != nil && was:
		a.log.Warn("store unreachable", logx.String("driver", a.storeDriver), logx.Err(err))
		a.sdStatus("store unreachable")
	case err == nil && !was:
		a.log.Info("store reachable again", logx.String("driver", a.storeDriver))
		armed, rerr := a.reminders.Reconcile(ctx)
		if rerr != nil {
			a.log.Warn("reconciliation incomplete", logx.Int("armed", armed), logx.Err(rerr))
		}
		if errors.Is(rerr, reminder.ErrStoreUnavailable) {
			// Try again on the next check.
			a.storeHealthy.Store(false)
			return
		}
		a.sdStatus(fmt.Sprintf("%d reminders armed", armed))
	}
}

func (a *App) sdStatus(msg string) {
	if _, err := systemd.Status(msg); err != nil {
		a.log.Debug("sd_notify status failed", logx.Err(err))
	}
}
