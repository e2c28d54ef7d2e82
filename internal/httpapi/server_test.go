package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medremind/internal/app"
	"medremind/internal/reminder"
	"medremind/internal/storage"
	"medremind/internal/task/engine"
	"medremind/internal/task/scheduler"
	logx "medremind/pkg/logx"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(engine.Task) error { return nil }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, reminder.Notice) error { return nil }

type fakeMonitor struct {
	status string
	store  app.StoreStatus
}

func (m fakeMonitor) Health(context.Context) (string, app.StoreStatus) { return m.status, m.store }

func (m fakeMonitor) Status(context.Context) app.Status {
	return app.Status{Agent: app.Agent, Status: m.status, Store: m.store}
}

func newServer(t *testing.T, mon Monitor) http.Handler {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "http.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sched := scheduler.New(scheduler.Config{Enabled: true}, nopEnqueuer{}, logx.Nop())
	svc := reminder.NewService(st, sched, nopDispatcher{}, logx.Nop(), nil, reminder.Options{})
	if mon == nil {
		mon = fakeMonitor{status: "healthy", store: app.StoreStatus{Driver: "sqlite", OK: true}}
	}
	return New(Config{Addr: "127.0.0.1:0"}, svc, mon, logx.Nop()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mon      fakeMonitor
		wantCode int
		wantOK   bool
	}{
		{name: "healthy", mon: fakeMonitor{status: "healthy", store: app.StoreStatus{Driver: "sqlite", OK: true}}, wantCode: http.StatusOK, wantOK: true},
		{name: "store down", mon: fakeMonitor{status: "degraded", store: app.StoreStatus{Driver: "mongo", Error: "no reachable servers"}}, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, newServer(t, tt.mon), http.MethodGet, "/health", "")
			require.Equal(t, tt.wantCode, rec.Code)

			var got healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantOK, got.OK)
			assert.Equal(t, app.Agent, got.Agent)
			assert.Equal(t, tt.mon.status, got.Status)
			assert.Equal(t, tt.mon.store.Driver, got.Store.Driver)
		})
	}
}

func TestScheduleListCancel(t *testing.T) {
	t.Parallel()
	h := newServer(t, nil)

	rec := do(t, h, http.MethodPost, "/reminders", `{
		"subject_name": "Meera",
		"delivery_address": "Meera@Example.com",
		"medication_label": "Vitamin D",
		"time_expression": "08:15"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sched reminder.Outcome[reminder.Scheduled]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sched))
	assert.True(t, sched.OK)
	assert.Equal(t, "meera_at_example_com:vitamin d", sched.Value.JobID)
	assert.Equal(t, "08:15", sched.Value.Time)

	rec = do(t, h, http.MethodGet, "/reminders?address=meera@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries listResponse[reminder.Entry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Equal(t, 1, entries.Count)
	assert.Equal(t, "Vitamin D", entries.Items[0].Medication)

	rec = do(t, h, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs listResponse[reminder.ActiveJob]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Equal(t, 1, jobs.Count)

	rec = do(t, h, http.MethodDelete, "/reminders?address=meera@example.com&medication=vitamin%20d", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/reminders?address=meera@example.com&medication=vitamin%20d", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurgeWithoutMedication(t *testing.T) {
	t.Parallel()
	h := newServer(t, nil)
	for _, med := range []string{"Aspirin", "Insulin"} {
		body := `{"subject_name":"Dev","delivery_address":"dev@example.com","medication_label":"` + med + `","time_expression":"7 am"}`
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/reminders", body).Code)
	}

	rec := do(t, h, http.MethodDelete, "/reminders?address=dev@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out reminder.Outcome[reminder.PurgeReport]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Value.RowsRemoved)
	assert.Equal(t, 2, out.Value.JobsRemoved)

	rec = do(t, h, http.MethodGet, "/jobs", "")
	assert.JSONEq(t, `{"ok":true,"count":0,"items":[]}`, rec.Body.String())
}

func TestScheduleRejects(t *testing.T) {
	t.Parallel()
	h := newServer(t, nil)
	tests := []struct {
		name     string
		body     string
		wantKind reminder.Kind
	}{
		{name: "malformed json", body: `{"subject_name":`, wantKind: reminder.KindInvalidInput},
		{name: "missing medication", body: `{"subject_name":"A","delivery_address":"a@example.com","time_expression":"9 pm"}`, wantKind: reminder.KindInvalidInput},
		{name: "bad email", body: `{"subject_name":"A","delivery_address":"not-an-email","medication_label":"X","time_expression":"9 pm"}`, wantKind: reminder.KindInvalidInput},
		{name: "bad time", body: `{"subject_name":"A","delivery_address":"a@example.com","medication_label":"X","time_expression":"teatime"}`, wantKind: reminder.KindUnparsableTime},
		{name: "medication too long", body: `{"subject_name":"A","delivery_address":"a@example.com","medication_label":"` + strings.Repeat("m", 201) + `","time_expression":"9 pm"}`, wantKind: reminder.KindInvalidInput},
		{name: "bad timezone", body: `{"subject_name":"A","delivery_address":"a@example.com","medication_label":"X","time_expression":"9 pm","timezone":"Mars/Olympus"}`, wantKind: reminder.KindInvalidTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/reminders", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var out errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.False(t, out.OK)
			assert.Equal(t, tt.wantKind, out.Kind)
		})
	}
}

func TestListForRequiresAddress(t *testing.T) {
	t.Parallel()
	rec := do(t, newServer(t, nil), http.MethodGet, "/reminders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind reminder.Kind
		want int
	}{
		{reminder.KindNone, http.StatusOK},
		{reminder.KindUnparsableTime, http.StatusBadRequest},
		{reminder.KindInvalidTimezone, http.StatusBadRequest},
		{reminder.KindInvalidInput, http.StatusBadRequest},
		{reminder.KindNotFound, http.StatusNotFound},
		{reminder.KindStoreUnavailable, http.StatusServiceUnavailable},
		{reminder.KindDispatchFailure, http.StatusInternalServerError},
		{reminder.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), tt.kind.String())
	}
}
