package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

// minRedial spaces reconnect attempts so a burst of calls against a dead
// server does not turn into a burst of dials.
const minRedial = time.Second

// OpenLazy is Open for long-running processes. When the store is configured
// correctly but cannot be reached, it returns a handle that keeps trying to
// connect on use. Until then every call fails with ErrUnavailable. Any other
// Open error is returned as is.
func OpenLazy(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := Open(ctx, cfg, log)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	log.Warn("store unreachable; will retry on use", logx.String("driver", cfg.Driver), logx.Err(err))
	return newLazyStore(func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg, log)
	}, err, log), nil
}

type lazyStore struct {
	open func(context.Context) (Store, error)
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	inner   Store
	lastTry time.Time
	lastErr error
	closed  bool
}

func newLazyStore(open func(context.Context) (Store, error), firstErr error, log logx.Logger) *lazyStore {
	return &lazyStore{open: open, log: log, now: time.Now, lastTry: time.Now(), lastErr: firstErr}
}

// conn returns the connected store, dialing at most once per minRedial.
func (l *lazyStore) conn(ctx context.Context) (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, unavailable("lazy store", errors.New("closed"))
	}
	if l.inner != nil {
		return l.inner, nil
	}
	if l.now().Sub(l.lastTry) < minRedial {
		return nil, l.lastErr
	}
	l.lastTry = l.now()
	st, err := l.open(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = unavailable("reconnect", err)
		}
		l.lastErr = err
		return nil, err
	}
	l.inner, l.lastErr = st, nil
	l.log.Info("store connected")
	return st, nil
}

func (l *lazyStore) Upsert(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	st, err := l.conn(ctx)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return st.Upsert(ctx, r)
}

func (l *lazyStore) ListAll(ctx context.Context) ([]reminder.Reminder, error) {
	st, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return st.ListAll(ctx)
}

func (l *lazyStore) ListByAddress(ctx context.Context, address string) ([]reminder.Reminder, error) {
	st, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return st.ListByAddress(ctx, address)
}

func (l *lazyStore) Delete(ctx context.Context, subjectID, medication string) (bool, error) {
	st, err := l.conn(ctx)
	if err != nil {
		return false, err
	}
	return st.Delete(ctx, subjectID, medication)
}

func (l *lazyStore) Ping(ctx context.Context) error {
	st, err := l.conn(ctx)
	if err != nil {
		return err
	}
	return st.Ping(ctx)
}

func (l *lazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.inner == nil {
		return nil
	}
	err := l.inner.Close()
	l.inner = nil
	return err
}
