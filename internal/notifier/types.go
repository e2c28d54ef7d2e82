package notifier

import "time"

// Config controls delivery.
type Config struct {
	Enabled     bool
	SMTP        SMTPConfig
	RatePerSec  int
	HistorySize int
	// DedupWindow suppresses a second delivery of the same job inside the
	// window, e.g. when a trigger is re-armed within the firing minute.
	DedupWindow time.Duration
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromName    string
	FromAddress string
	Timeout     time.Duration
}

// Configured reports whether real delivery is possible.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

func (c SMTPConfig) from() string {
	if c.FromAddress != "" {
		return c.FromAddress
	}
	return c.Username
}

const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusDeduped = "deduped"
)

type HistoryItem struct {
	At         time.Time `json:"at"`
	DispatchID string    `json:"dispatch_id"`
	JobID      string    `json:"job_id"`
	Address    string    `json:"delivery_address"`
	Medication string    `json:"medication_label"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// DispatchEvent is published on the event bus for every delivery outcome.
type DispatchEvent = HistoryItem
