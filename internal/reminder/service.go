package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"medremind/internal/eventbus"
	"medremind/internal/task/scheduler"
	logx "medremind/pkg/logx"
)

// Store is the durable side of a reminder.
type Store interface {
	// Upsert inserts or replaces the row keyed by (SubjectID, lower(Medication)).
	// An existing row keeps its CreatedAt. The stored row is returned.
	Upsert(ctx context.Context, r Reminder) (Reminder, error)
	ListAll(ctx context.Context) ([]Reminder, error)
	ListByAddress(ctx context.Context, address string) ([]Reminder, error)
	// Delete matches medication case-insensitively and exactly.
	Delete(ctx context.Context, subjectID, medication string) (bool, error)
	Ping(ctx context.Context) error
}

// JobTable is the live side of a reminder. *scheduler.Service implements it.
type JobTable interface {
	AddDaily(name, hhmm, tz string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	Schedules() []scheduler.ScheduleInfo
}

// Dispatcher delivers one firing.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notice) error
}

type Options struct {
	DefaultTimezone string
	// StoreTimeout bounds each store call made by an operation.
	StoreTimeout time.Duration
	// FireTimeout bounds one delivery attempt.
	FireTimeout time.Duration
	Now         func() time.Time
}

type Service struct {
	store    Store
	jobs     JobTable
	dispatch Dispatcher
	log      logx.Logger
	bus      eventbus.Bus
	opt      Options

	// Writers to one job id hold its key lock across the store write and
	// the job table change. Reconcile takes rebuild exclusively so a row it
	// listed cannot be cancelled before it is armed.
	keys    keyLocks
	rebuild sync.RWMutex
}

// lockKey serializes operations on one job id.
func (s *Service) lockKey(jobID string) func() {
	s.rebuild.RLock()
	unlock := s.keys.lock(jobID)
	return func() {
		unlock()
		s.rebuild.RUnlock()
	}
}

// ScheduleRequest carries the caller's raw input.
type ScheduleRequest struct {
	SubjectName    string `json:"subject_name"`
	Address        string `json:"delivery_address"`
	Medication     string `json:"medication_label"`
	TimeExpression string `json:"time_expression"`
	Timezone       string `json:"timezone,omitempty"`
}

func NewService(store Store, jobs JobTable, dispatch Dispatcher, log logx.Logger, bus eventbus.Bus, opt Options) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(opt.DefaultTimezone) == "" {
		opt.DefaultTimezone = DefaultTimezone
	}
	if opt.StoreTimeout <= 0 {
		opt.StoreTimeout = 5 * time.Second
	}
	if opt.FireTimeout <= 0 {
		opt.FireTimeout = 30 * time.Second
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Service{store: store, jobs: jobs, dispatch: dispatch, log: log, bus: bus, opt: opt}
}

func (s *Service) DefaultTimezone() string { return s.opt.DefaultTimezone }

// Schedule persists the reminder and then arms its daily trigger. A store
// failure aborts before anything is armed.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) Outcome[Scheduled] {
	address := NormalizeAddress(req.Address)
	medication := strings.TrimSpace(req.Medication)
	if address == "" || medication == "" {
		return fail[Scheduled](KindInvalidInput, "A delivery address and a medication name are required.")
	}
	if utf8.RuneCountInString(medication) > MaxMedicationLen {
		return fail[Scheduled](KindInvalidInput,
			fmt.Sprintf("Medication name is too long (max %d characters).", MaxMedicationLen))
	}

	hhmm, err := NormalizeTime(req.TimeExpression)
	if err != nil {
		return fail[Scheduled](KindUnparsableTime,
			fmt.Sprintf("Could not parse '%s'. Use formats like '8 AM', '9:30 PM', or '21:00'.", req.TimeExpression))
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = s.opt.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fail[Scheduled](KindInvalidTimezone,
			fmt.Sprintf("Unknown timezone '%s'. Use an IANA name like 'Asia/Kolkata'.", tz))
	}

	defer s.lockKey(JobID(SubjectID(address), medication))()

	row := Reminder{
		SubjectID:  SubjectID(address),
		Address:    address,
		Medication: medication,
		Time:       hhmm,
		Timezone:   tz,
		CreatedAt:  s.opt.Now().UTC(),
	}

	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	row, err = s.store.Upsert(sctx, row)
	cancel()
	if err != nil {
		s.log.Error("reminder upsert failed", logx.String("address", address), logx.String("medication", medication), logx.Err(err))
		return fail[Scheduled](storeKind(err), fmt.Sprintf("Failed to schedule reminder: %v", err))
	}

	jobID, err := s.arm(row)
	if err != nil {
		s.log.Error("reminder register failed", logx.String("job", row.JobID()), logx.Err(err))
		return fail[Scheduled](KindInternal, fmt.Sprintf("Failed to schedule reminder: %v", err))
	}

	s.log.Info("reminder scheduled",
		logx.String("job", jobID),
		logx.String("subject", req.SubjectName),
		logx.String("time", hhmm),
		logx.String("tz", tz),
	)
	out := Scheduled{JobID: jobID, SubjectID: row.SubjectID, Address: address, Medication: medication, Time: hhmm, Timezone: tz}
	s.publish(eventbus.TypeReminderScheduled, out)

	return succeed(fmt.Sprintf("Daily reminder set for %s at %s (%s). Reminders will be sent to %s. Job ID: %s",
		medication, hhmm, tz, address, jobID), out)
}

// arm registers (or replaces) the trigger for a stored row.
func (s *Service) arm(r Reminder) (string, error) {
	n := r.Notice()
	return s.jobs.AddDaily(n.JobID, r.Time, r.Timezone, s.opt.FireTimeout, func(ctx context.Context) error {
		return s.dispatch.Dispatch(ctx, n)
	})
}

// Cancel removes both the live job and the stored row. It succeeds when
// either side removed something.
func (s *Service) Cancel(ctx context.Context, address, medication string) Outcome[CancelReport] {
	address = NormalizeAddress(address)
	medication = strings.TrimSpace(medication)
	if address == "" || medication == "" {
		return fail[CancelReport](KindInvalidInput, "A delivery address and a medication name are required.")
	}
	subject := SubjectID(address)
	defer s.lockKey(JobID(subject, medication))()

	var rep CancelReport
	rep.JobRemoved = s.jobs.Remove(JobID(subject, medication))

	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	removed, err := s.store.Delete(sctx, subject, medication)
	cancel()
	if err != nil {
		s.log.Error("reminder delete failed", logx.String("subject", subject), logx.String("medication", medication), logx.Bool("job_removed", rep.JobRemoved), logx.Err(err))
		msg := fmt.Sprintf("Failed to cancel reminder: %v", err)
		if rep.JobRemoved {
			msg = fmt.Sprintf("Reminder for %s was stopped but could not be removed from storage: %v", medication, err)
		}
		return Outcome[CancelReport]{Kind: storeKind(err), Message: msg, Value: rep}
	}
	rep.RowRemoved = removed

	if !rep.Consistent() {
		s.log.Warn("reminder state was inconsistent",
			logx.String("subject", subject),
			logx.String("medication", medication),
			logx.Bool("job_removed", rep.JobRemoved),
			logx.Bool("row_removed", rep.RowRemoved),
		)
	}
	out := CancelOutcome(medication, rep)
	if out.OK {
		s.log.Info("reminder cancelled", logx.String("job", JobID(subject, medication)))
		s.publish(eventbus.TypeReminderCancelled, Scheduled{JobID: JobID(subject, medication), SubjectID: subject, Address: address, Medication: medication})
	}
	return out
}

// ListFor reads the stored reminders of one address. The job table is not
// consulted.
func (s *Service) ListFor(ctx context.Context, address string) Outcome[[]Entry] {
	address = NormalizeAddress(address)
	if address == "" {
		return fail[[]Entry](KindInvalidInput, "A delivery address is required.")
	}
	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	rows, err := s.store.ListByAddress(sctx, address)
	cancel()
	if err != nil {
		return fail[[]Entry](storeKind(err), err.Error())
	}
	items := make([]Entry, 0, len(rows))
	for _, r := range rows {
		tz := r.Timezone
		if tz == "" {
			tz = s.opt.DefaultTimezone
		}
		items = append(items, Entry{Medication: r.Medication, Time: r.Time, Timezone: tz, Address: r.Address})
	}
	return succeed("", items)
}

// ListActive reads the live job table. The store is not consulted.
func (s *Service) ListActive() Outcome[[]ActiveJob] {
	items := []ActiveJob{}
	for _, info := range s.jobs.Schedules() {
		subject, med, ok := ParseJobID(info.Name)
		if !ok {
			continue
		}
		items = append(items, ActiveJob{JobID: info.Name, SubjectID: subject, Medication: med, NextFireTime: info.Next})
	}
	return succeed("", items)
}

// Purge removes every reminder of an address from both sides.
func (s *Service) Purge(ctx context.Context, address string) Outcome[PurgeReport] {
	address = NormalizeAddress(address)
	if address == "" {
		return fail[PurgeReport](KindInvalidInput, "A delivery address is required.")
	}
	subject := SubjectID(address)

	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	defer cancel()
	rows, err := s.store.ListByAddress(sctx, address)
	if err != nil {
		return fail[PurgeReport](storeKind(err), fmt.Sprintf("Failed to purge reminders: %v", err))
	}

	var rep PurgeReport
	for _, r := range rows {
		unlock := s.lockKey(JobID(r.SubjectID, r.Medication))
		ok, err := s.store.Delete(sctx, r.SubjectID, r.Medication)
		if err == nil && ok {
			rep.RowsRemoved++
		}
		if err == nil && s.jobs.Remove(JobID(r.SubjectID, r.Medication)) {
			rep.JobsRemoved++
		}
		unlock()
		if err != nil {
			return Outcome[PurgeReport]{Kind: storeKind(err), Message: fmt.Sprintf("Failed to purge reminders: %v", err), Value: rep}
		}
	}
	// Jobs without a row are removed too.
	for _, info := range s.jobs.Schedules() {
		sub, _, ok := ParseJobID(info.Name)
		if !ok || sub != subject {
			continue
		}
		unlock := s.lockKey(info.Name)
		if s.jobs.Remove(info.Name) {
			rep.JobsRemoved++
		}
		unlock()
	}

	if rep.RowsRemoved == 0 && rep.JobsRemoved == 0 {
		return Outcome[PurgeReport]{Kind: KindNotFound, Message: "No reminders found for " + address + ".", Value: rep}
	}
	s.log.Info("reminders purged", logx.String("subject", subject), logx.Int("rows", rep.RowsRemoved), logx.Int("jobs", rep.JobsRemoved))
	return succeed(fmt.Sprintf("Removed %d reminder(s) for %s.", max(rep.RowsRemoved, rep.JobsRemoved), address), rep)
}

// Reconcile arms a trigger for every stored reminder. It returns the number
// armed. On a store read failure nothing is armed and the error is returned
// for the caller to log; the job table keeps running.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	rows, err := s.store.ListAll(sctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("load reminders: %w", err)
	}

	armed := 0
	var errs []error
	for _, r := range rows {
		if r.Timezone == "" {
			r.Timezone = s.opt.DefaultTimezone
		}
		if r.SubjectID == "" {
			r.SubjectID = SubjectID(r.Address)
		}
		if _, err := s.arm(r); err != nil {
			s.log.Warn("stored reminder skipped", logx.String("job", r.JobID()), logx.String("time", r.Time), logx.String("tz", r.Timezone), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		armed++
	}
	s.log.Info("reminders restored", logx.Int("armed", armed), logx.Int("stored", len(rows)), logx.Int("skipped", len(errs)))
	s.publish(eventbus.TypeReminderRestored, map[string]int{"armed": armed, "stored": len(rows)})
	return armed, errors.Join(errs...)
}

// Ping checks the store within the operation timeout.
func (s *Service) Ping(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, s.opt.StoreTimeout)
	defer cancel()
	return s.store.Ping(sctx)
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.opt.Now(), Data: data})
	}
}

// storeKind classifies a store error. Anything the driver did not tag is still
// reported as the store being unavailable.
func storeKind(err error) Kind {
	if k := KindOf(err); k != KindInternal {
		return k
	}
	return KindStoreUnavailable
}
