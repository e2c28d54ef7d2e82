package reminder

import (
	"strings"
	"time"
)

// DefaultTimezone applies when neither the caller nor config names a zone.
const DefaultTimezone = "Asia/Kolkata"

// MaxMedicationLen caps a medication label, in characters.
const MaxMedicationLen = 200

// Reminder is the durable record of one daily reminder.
type Reminder struct {
	SubjectID  string    `json:"subject_id"`
	Address    string    `json:"delivery_address"`
	Medication string    `json:"medication_label"`
	Time       string    `json:"time"`
	Timezone   string    `json:"timezone"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notice is everything needed to deliver one firing without a store lookup.
type Notice struct {
	JobID      string `json:"job_id"`
	Address    string `json:"delivery_address"`
	Medication string `json:"medication_label"`
	Time       string `json:"time"`
	Timezone   string `json:"timezone"`
}

func (r Reminder) JobID() string { return JobID(r.SubjectID, r.Medication) }

func (r Reminder) Notice() Notice {
	return Notice{JobID: r.JobID(), Address: r.Address, Medication: r.Medication, Time: r.Time, Timezone: r.Timezone}
}

// NormalizeAddress case-folds a delivery address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SubjectID derives the stable subject key from a delivery address,
// e.g. "Jane.Doe@Example.com" -> "jane_doe_at_example_com".
func SubjectID(addr string) string {
	s := NormalizeAddress(addr)
	s = strings.ReplaceAll(s, "@", "_at_")
	return strings.ReplaceAll(s, ".", "_")
}

// MedicationKey is the case-folded label used for matching and keys.
func MedicationKey(label string) string {
	return strings.ToLower(label)
}

// JobID joins a subject id and a medication label into the key shared by the
// store and the job table.
func JobID(subjectID, medication string) string {
	return subjectID + ":" + MedicationKey(medication)
}

// ParseJobID splits a job id on its first colon. ok is false for names that
// are not reminder jobs.
func ParseJobID(id string) (subjectID, medication string, ok bool) {
	subjectID, medication, ok = strings.Cut(id, ":")
	if !ok || subjectID == "" {
		return "", "", false
	}
	return subjectID, medication, true
}
