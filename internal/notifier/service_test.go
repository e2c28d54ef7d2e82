package notifier

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
	"medremind/internal/reminder"
	"medremind/internal/task/engine"
	logx "medremind/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

var smtpOK = SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com", Password: "secret"}

func notice() reminder.Notice {
	return reminder.Notice{JobID: "a_at_x_com:aspirin", Address: "a@x.com", Medication: "Aspirin <75mg>", Time: "08:00", Timezone: "Asia/Kolkata"}
}

func TestDegradedModeSkips(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Enabled: true}, logx.Nop(), bus, WithSender(snd))
	require.True(t, s.Degraded())
	require.NoError(t, s.Dispatch(context.Background(), notice()))
	assert.Empty(t, snd.sent)

	ev := <-events
	assert.Equal(t, eventbus.TypeReminderSkipped, ev.Type)
	assert.Equal(t, StatusSkipped, s.History()[0].Status)
}

func TestDispatchRendersEmail(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, SMTP: smtpOK}, logx.Nop(), nil, WithSender(snd))
	require.False(t, s.Degraded())
	require.NoError(t, s.Dispatch(context.Background(), notice()))

	require.Len(t, snd.sent, 1)
	m := snd.sent[0]
	assert.Equal(t, "Reminder: Take Aspirin <75mg> now", m.Subject)
	assert.Equal(t, "Jeevanta Reminders", m.FromName)
	assert.Equal(t, "bot@example.com", m.FromAddress)
	assert.Equal(t, "a@x.com", m.To)
	assert.Contains(t, m.HTML, "Aspirin &lt;75mg&gt;")
	assert.Contains(t, m.HTML, "08:00 (Asia/Kolkata)")
	assert.Contains(t, m.HTML, "#198754")
	assert.Contains(t, m.Text, "Scheduled Time: 08:00 (Asia/Kolkata)")

	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, StatusSent, h[0].Status)
	assert.NotEmpty(t, h[0].DispatchID)
}

func TestDispatchFailureWrapped(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{err: errors.New("dial tcp: connection refused")}
	s := New(Config{Enabled: true, SMTP: smtpOK}, logx.Nop(), nil, WithSender(snd))

	err := s.Dispatch(context.Background(), notice())
	require.Error(t, err)
	assert.ErrorIs(t, err, reminder.ErrDispatch)
	assert.False(t, engine.IsNoRetry(err))
	assert.True(t, strings.Contains(err.Error(), "a@x.com"))
	assert.Equal(t, StatusFailed, s.History()[0].Status)

	snd.err = engine.NoRetry(errors.New("550 no such user"))
	err = s.Dispatch(context.Background(), notice())
	assert.True(t, engine.IsNoRetry(err))
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, SMTP: smtpOK, DedupWindow: time.Minute}, logx.Nop(), nil, WithSender(snd))
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, notice()))
	require.NoError(t, s.Dispatch(ctx, notice()))
	assert.Len(t, snd.sent, 1)
	assert.Equal(t, StatusDeduped, s.History()[1].Status)

	// A failed send frees the slot for the retry.
	other := notice()
	other.JobID = "b_at_x_com:zinc"
	snd.err = errors.New("temporary")
	require.Error(t, s.Dispatch(ctx, other))
	snd.err = nil
	require.NoError(t, s.Dispatch(ctx, other))
	assert.Len(t, snd.sent, 2)
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{HistorySize: 3}, logx.Nop(), nil, WithSender(&fakeSender{}))
	for i := 0; i < 5; i++ {
		_ = s.Dispatch(context.Background(), notice())
	}
	assert.Len(t, s.History(), 3)
}

func TestDedupKeyIncludesSlot(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, SMTP: smtpOK, DedupWindow: 5 * time.Minute}, logx.Nop(), nil, WithSender(snd))
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, notice()))
	moved := notice()
	moved.Time = "08:01"
	require.NoError(t, s.Dispatch(ctx, moved))
	assert.Len(t, snd.sent, 2, "a rescheduled slot inside the window is still delivered")

	require.NoError(t, s.Dispatch(ctx, moved))
	assert.Len(t, snd.sent, 2)
}

type smtpReply struct {
	code int
	temp bool
}

func (r *smtpReply) Error() string  { return fmt.Sprintf("smtp %d", r.code) }
func (r *smtpReply) IsTemp() bool   { return r.temp }
func (r *smtpReply) ErrorCode() int { return r.code }

func TestClassifySendErr(t *testing.T) {
	t.Parallel()
	require.NoError(t, classifySendErr(nil))

	dial := errors.New("dial tcp: i/o timeout")
	got := classifySendErr(dial)
	assert.Same(t, dial, got)

	assert.True(t, engine.IsNoRetry(classifySendErr(&smtpReply{code: 550})))

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{name: "busy", err: &smtpReply{code: 421, temp: true}, want: busyBackoff},
		{name: "mailbox locked", err: fmt.Errorf("send: %w", &smtpReply{code: 450, temp: true}), want: tempFailBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySendErr(tt.err)
			var ra engine.RetryAfterError
			require.ErrorAs(t, err, &ra)
			assert.Equal(t, tt.want, ra.RetryAfter())
			assert.False(t, engine.IsNoRetry(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
