package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medremind/internal/eventbus"
	"medremind/internal/task/scheduler"
	logx "medremind/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]Reminder
	err  error
}

func newMemStore() *memStore { return &memStore{rows: map[string]Reminder{}} }

func (m *memStore) key(subject, med string) string { return subject + "\x00" + strings.ToLower(med) }

func (m *memStore) Upsert(_ context.Context, r Reminder) (Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Reminder{}, m.err
	}
	k := m.key(r.SubjectID, r.Medication)
	if old, ok := m.rows[k]; ok {
		r.CreatedAt = old.CreatedAt
	}
	m.rows[k] = r
	return r, nil
}

func (m *memStore) ListAll(context.Context) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Reminder, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ListByAddress(_ context.Context, addr string) ([]Reminder, error) {
	all, err := m.ListAll(context.Background())
	if err != nil {
		return nil, err
	}
	var out []Reminder
	for _, r := range all {
		if r.Address == addr {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, subject, med string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	k := m.key(subject, med)
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

func (m *memStore) Ping(context.Context) error { return m.err }

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]func(context.Context) error
	at   map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]func(context.Context) error{}, at: map[string]string{}}
}

func (f *fakeJobs) AddDaily(name, hhmm, tz string, _ time.Duration, job func(context.Context) error) (string, error) {
	if _, err := scheduler.DailySpec(hhmm, tz); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = job
	f.at[name] = hhmm + " " + tz
	return name, nil
}

func (f *fakeJobs) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.at, name)
	return ok
}

func (f *fakeJobs) Schedules() []scheduler.ScheduleInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduler.ScheduleInfo, 0, len(f.jobs))
	for name := range f.jobs {
		out = append(out, scheduler.ScheduleInfo{Name: name})
	}
	return out
}

func (f *fakeJobs) fire(t *testing.T, name string) error {
	t.Helper()
	f.mu.Lock()
	job := f.jobs[name]
	f.mu.Unlock()
	require.NotNil(t, job, "job %s not registered", name)
	return job(context.Background())
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []Notice
	failFor string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, n Notice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Address == d.failFor {
		return fmt.Errorf("%w: smtp 550 mailbox unavailable", ErrDispatch)
	}
	d.sent = append(d.sent, n)
	return nil
}

func newTestService(store Store, jobs JobTable, disp Dispatcher) *Service {
	return NewService(store, jobs, disp, logx.Nop(), eventbus.New(), Options{})
}

func TestScheduleEquivalentTimesSameTrigger(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"9 PM", "9pm", "21:00", "21"} {
		jobs := newFakeJobs()
		svc := newTestService(newMemStore(), jobs, &fakeDispatcher{})
		out := svc.Schedule(context.Background(), ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: expr})
		require.True(t, out.OK, out.Message)
		assert.Equal(t, "21:00 Asia/Kolkata", jobs.at["a_at_x_com:aspirin"], expr)
	}
}

func TestScheduleMessageAndDefaults(t *testing.T) {
	t.Parallel()
	svc := newTestService(newMemStore(), newFakeJobs(), &fakeDispatcher{})
	out := svc.Schedule(context.Background(), ScheduleRequest{
		SubjectName: "Asha", Address: " Asha@Example.com ", Medication: "Metformin 500mg", TimeExpression: "8 AM",
	})
	require.True(t, out.OK)
	assert.Equal(t, "08:00", out.Value.Time)
	assert.Equal(t, DefaultTimezone, out.Value.Timezone)
	assert.Equal(t, "asha_at_example_com:metformin 500mg", out.Value.JobID)
	assert.Equal(t,
		"Daily reminder set for Metformin 500mg at 08:00 (Asia/Kolkata). Reminders will be sent to asha@example.com. Job ID: asha_at_example_com:metformin 500mg",
		out.Message)
}

func TestScheduleUnparsableTimeWritesNothing(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	out := svc.Schedule(context.Background(), ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "tomorrow"})
	assert.False(t, out.OK)
	assert.Equal(t, KindUnparsableTime, out.Kind)
	assert.Equal(t, "Could not parse 'tomorrow'. Use formats like '8 AM', '9:30 PM', or '21:00'.", out.Message)
	assert.Empty(t, store.rows)
	assert.Empty(t, jobs.jobs)
}

func TestScheduleInvalidTimezone(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	out := svc.Schedule(context.Background(), ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "8 AM", Timezone: "Atlantis/Capital"})
	assert.Equal(t, KindInvalidTimezone, out.Kind)
	assert.Empty(t, store.rows)
	assert.Empty(t, jobs.jobs)
}

func TestScheduleStoreFailureArmsNothing(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	store.err = fmt.Errorf("dial: %w", ErrStoreUnavailable)
	svc := newTestService(store, jobs, &fakeDispatcher{})
	out := svc.Schedule(context.Background(), ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "8 AM"})
	assert.False(t, out.OK)
	assert.Equal(t, KindStoreUnavailable, out.Kind)
	assert.True(t, strings.HasPrefix(out.Message, "Failed to schedule reminder:"))
	assert.Empty(t, jobs.jobs)
}

func TestRescheduleReplaces(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, jobs, &fakeDispatcher{}, logx.Nop(), nil, Options{Now: func() time.Time { return created }})
	ctx := context.Background()

	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "8 AM"}).OK)
	svc.opt.Now = func() time.Time { return created.Add(48 * time.Hour) }
	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: "ASPIRIN", TimeExpression: "9 PM"}).OK)

	require.Len(t, store.rows, 1)
	require.Len(t, jobs.jobs, 1)
	for _, r := range store.rows {
		assert.Equal(t, "21:00", r.Time)
		assert.Equal(t, created, r.CreatedAt)
	}
	assert.Equal(t, "21:00 Asia/Kolkata", jobs.at["a_at_x_com:aspirin"])
}

func TestCancel(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()

	out := svc.Cancel(ctx, "a@x.com", "Aspirin")
	assert.False(t, out.OK)
	assert.Equal(t, KindNotFound, out.Kind)
	assert.Equal(t, "No active reminder found for Aspirin.", out.Message)

	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "8 AM"}).OK)
	out = svc.Cancel(ctx, "A@X.com", "aspirin")
	require.True(t, out.OK)
	assert.Equal(t, "Reminder for aspirin has been cancelled.", out.Message)
	assert.Equal(t, CancelReport{JobRemoved: true, RowRemoved: true}, out.Value)
	assert.Empty(t, store.rows)
	assert.Empty(t, jobs.jobs)
	assert.Empty(t, svc.ListActive().Value)
	assert.Empty(t, svc.ListFor(ctx, "a@x.com").Value)
}

func TestCancelOneSided(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()

	// Row without a job, e.g. when reconciliation skipped it.
	_, _ = store.Upsert(ctx, Reminder{SubjectID: "a_at_x_com", Address: "a@x.com", Medication: "Aspirin", Time: "08:00", Timezone: "UTC"})
	out := svc.Cancel(ctx, "a@x.com", "aspirin")
	require.True(t, out.OK)
	assert.Equal(t, CancelReport{RowRemoved: true}, out.Value)
}

func TestCancelOutcomeIsPure(t *testing.T) {
	t.Parallel()
	cases := map[CancelReport]bool{
		{}:                                 false,
		{JobRemoved: true}:                 true,
		{RowRemoved: true}:                 true,
		{JobRemoved: true, RowRemoved: true}: true,
	}
	for rep, ok := range cases {
		assert.Equal(t, ok, CancelOutcome("X", rep).OK, "%+v", rep)
	}
}

func TestListForAndActive(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	jobs := scheduler.New(scheduler.Config{Enabled: true}, nil, logx.Nop())
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()

	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: "8 AM", Timezone: "UTC"}).OK)
	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: "Zinc", TimeExpression: "21:00", Timezone: "UTC"}).OK)
	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "b@x.com", Medication: "Iron", TimeExpression: "7 AM", Timezone: "UTC"}).OK)

	list := svc.ListFor(ctx, "A@x.com")
	require.True(t, list.OK)
	assert.Len(t, list.Value, 2)

	active := svc.ListActive()
	require.Len(t, active.Value, 3)
	assert.Equal(t, "a_at_x_com", active.Value[0].SubjectID)
	assert.Equal(t, "aspirin", active.Value[0].Medication)
	assert.Equal(t, 8, active.Value[0].NextFireTime.UTC().Hour())
}

func TestReconcileRestoresEveryRow(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = store.Upsert(ctx, Reminder{
			SubjectID: "a_at_x_com", Address: "a@x.com",
			Medication: fmt.Sprintf("med%d", i), Time: "08:00", Timezone: "UTC",
		})
	}
	jobs := newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	n, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, svc.ListActive().Value, 5)
}

func TestReconcileStoreDown(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.err = ErrStoreUnavailable
	jobs := newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	n, err := svc.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Zero(t, n)
	assert.Empty(t, jobs.jobs)
}

func TestDispatchFailureIsolated(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs()
	disp := &fakeDispatcher{failFor: "bad@x.com"}
	svc := newTestService(newMemStore(), jobs, disp)
	ctx := context.Background()

	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "bad@x.com", Medication: "A", TimeExpression: "8 AM"}).OK)
	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "good@x.com", Medication: "B", TimeExpression: "8 AM"}).OK)

	err := jobs.fire(t, "bad_at_x_com:a")
	assert.True(t, errors.Is(err, ErrDispatch))
	require.NoError(t, jobs.fire(t, "good_at_x_com:b"))

	assert.Len(t, disp.sent, 1)
	assert.Len(t, jobs.jobs, 2, "a failed delivery must not unregister the job")
}

func TestPurge(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()
	for _, med := range []string{"A", "B"} {
		require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: med, TimeExpression: "8 AM"}).OK)
	}
	require.True(t, svc.Schedule(ctx, ScheduleRequest{Address: "b@x.com", Medication: "C", TimeExpression: "8 AM"}).OK)

	out := svc.Purge(ctx, "a@x.com")
	require.True(t, out.OK, out.Message)
	assert.Equal(t, PurgeReport{JobsRemoved: 2, RowsRemoved: 2}, out.Value)
	assert.Len(t, jobs.jobs, 1)

	assert.Equal(t, KindNotFound, svc.Purge(ctx, "a@x.com").Kind)
}

// gatedStore holds the first Upsert after it has written until release is
// closed.
type gatedStore struct {
	*memStore
	once    sync.Once
	written chan struct{}
	release chan struct{}
}

func (g *gatedStore) Upsert(ctx context.Context, r Reminder) (Reminder, error) {
	out, err := g.memStore.Upsert(ctx, r)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.written)
		<-g.release
	}
	return out, err
}

func TestConcurrentRescheduleKeepsStoreAndJobInStep(t *testing.T) {
	t.Parallel()
	store := &gatedStore{memStore: newMemStore(), written: make(chan struct{}), release: make(chan struct{})}
	jobs := newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()
	req := func(at string) ScheduleRequest {
		return ScheduleRequest{Address: "a@x.com", Medication: "Aspirin", TimeExpression: at, Timezone: "UTC"}
	}

	first := make(chan Outcome[Scheduled], 1)
	go func() { first <- svc.Schedule(ctx, req("08:00")) }()
	<-store.written

	second := make(chan Outcome[Scheduled], 1)
	go func() { second <- svc.Schedule(ctx, req("21:00")) }()
	select {
	case <-second:
		t.Fatal("second schedule finished while the first still held the key")
	case <-time.After(100 * time.Millisecond):
	}
	close(store.release)

	require.True(t, (<-first).OK)
	require.True(t, (<-second).OK)

	rows, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, rows[0].Time+" UTC", jobs.at["a_at_x_com:aspirin"])
	assert.Equal(t, "21:00", rows[0].Time)
}

func TestKeyLocksReleaseEntries(t *testing.T) {
	t.Parallel()
	var k keyLocks
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.lock("a_at_x_com:aspirin")()
		}()
	}
	wg.Wait()
	assert.Empty(t, k.locks)
}

func TestScheduleRejectsOverlongMedication(t *testing.T) {
	t.Parallel()
	store, jobs := newMemStore(), newFakeJobs()
	svc := newTestService(store, jobs, &fakeDispatcher{})
	ctx := context.Background()

	out := svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: strings.Repeat("é", MaxMedicationLen+1), TimeExpression: "8 AM"})
	assert.Equal(t, KindInvalidInput, out.Kind)
	assert.Empty(t, store.rows)
	assert.Empty(t, jobs.jobs)

	out = svc.Schedule(ctx, ScheduleRequest{Address: "a@x.com", Medication: strings.Repeat("é", MaxMedicationLen), TimeExpression: "8 AM"})
	assert.True(t, out.OK, out.Message)
}
