package reminder

import "time"

// Outcome is the tagged result of a tool-facing operation. On failure Kind
// names the reason and Value is the zero value.
type Outcome[T any] struct {
	OK      bool   `json:"ok"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Value   T      `json:"value"`
}

func succeed[T any](msg string, v T) Outcome[T] {
	return Outcome[T]{OK: true, Message: msg, Value: v}
}

func fail[T any](kind Kind, msg string) Outcome[T] {
	return Outcome[T]{Kind: kind, Message: msg}
}

// Scheduled describes a reminder that is both persisted and armed.
type Scheduled struct {
	JobID      string `json:"job_id"`
	SubjectID  string `json:"subject_id"`
	Address    string `json:"delivery_address"`
	Medication string `json:"medication_label"`
	Time       string `json:"time"`
	Timezone   string `json:"timezone"`
}

// CancelReport records what each side of a cancel removed.
type CancelReport struct {
	JobRemoved bool `json:"job_removed"`
	RowRemoved bool `json:"row_removed"`
}

// Consistent is false when only one side held the reminder.
func (r CancelReport) Consistent() bool { return r.JobRemoved == r.RowRemoved }

// CancelOutcome combines both removals: the cancel succeeds if either side
// removed something.
func CancelOutcome(medication string, r CancelReport) Outcome[CancelReport] {
	if r.JobRemoved || r.RowRemoved {
		return succeed("Reminder for "+medication+" has been cancelled.", r)
	}
	return Outcome[CancelReport]{Kind: KindNotFound, Message: "No active reminder found for " + medication + ".", Value: r}
}

// Entry is one stored reminder as shown to its owner.
type Entry struct {
	Medication string `json:"medication_label"`
	Time       string `json:"time"`
	Timezone   string `json:"timezone"`
	Address    string `json:"delivery_address"`
}

// ActiveJob is one live trigger from the job table.
type ActiveJob struct {
	JobID        string    `json:"job_id"`
	SubjectID    string    `json:"subject_id"`
	Medication   string    `json:"medication_label"`
	NextFireTime time.Time `json:"next_fire_time"`
}

type PurgeReport struct {
	JobsRemoved int `json:"jobs_removed"`
	RowsRemoved int `json:"rows_removed"`
}
