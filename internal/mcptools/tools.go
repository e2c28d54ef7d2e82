// Package mcptools exposes the reminder operations as MCP tools.
//
// Each tool follows the same pattern:
//   - a struct holding the Operations it calls
//   - Definition() returns the mcp.Tool schema
//   - Handle() validates arguments, runs the operation and returns a JSON
//     text result shaped {ok, message} or {ok, count, items}
package mcptools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"medremind/internal/reminder"
)

// Operations is the subset of *reminder.Service the tools call.
type Operations interface {
	Schedule(ctx context.Context, req reminder.ScheduleRequest) reminder.Outcome[reminder.Scheduled]
	Cancel(ctx context.Context, address, medication string) reminder.Outcome[reminder.CancelReport]
	ListFor(ctx context.Context, address string) reminder.Outcome[[]reminder.Entry]
	ListActive() reminder.Outcome[[]reminder.ActiveJob]
	DefaultTimezone() string
}

type messageResult struct {
	OK      bool          `json:"ok"`
	Kind    reminder.Kind `json:"kind,omitempty"`
	Message string        `json:"message"`
	JobID   string        `json:"job_id,omitempty"`
}

type listResult[T any] struct {
	OK      bool          `json:"ok"`
	Kind    reminder.Kind `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
	Count   int           `json:"count"`
	Items   []T           `json:"items"`
}

func listOf[T any](out reminder.Outcome[[]T]) listResult[T] {
	items := out.Value
	if items == nil {
		items = []T{}
	}
	return listResult[T]{OK: out.OK, Kind: out.Kind, Message: out.Message, Count: len(items), Items: items}
}

// jsonResult renders v as the tool's text content. A not-ok result is
// flagged as a tool error so clients can branch without parsing.
func jsonResult(ok bool, v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error())
	}
	res := mcp.NewToolResultText(string(b))
	res.IsError = !ok
	return res
}

// ─── ScheduleTool ───────────────────────────────────────────────────────────

// ScheduleTool handles schedule_reminder.
type ScheduleTool struct{ ops Operations }

func NewScheduleTool(ops Operations) *ScheduleTool { return &ScheduleTool{ops: ops} }

func (t *ScheduleTool) Definition() mcp.Tool {
	return mcp.NewTool("schedule_reminder",
		mcp.WithDescription(
			"Schedule a daily medication reminder for a patient. Rescheduling the same medication "+
				"for the same email replaces the previous time.",
		),
		mcp.WithString("patient_name",
			mcp.Required(),
			mcp.Description("The patient's full name"),
		),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("Email address where the daily reminder will be sent"),
		),
		mcp.WithString("medication_name",
			mcp.Required(),
			mcp.Description("Name of the medication (e.g. 'Metformin 500mg')"),
			mcp.MaxLength(reminder.MaxMedicationLen),
		),
		mcp.WithString("reminder_time",
			mcp.Required(),
			mcp.Description("Time of day in any common format: '8 AM', '9:30 PM', '21:00', '21'"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone (default: "+t.ops.DefaultTimezone()+")"),
		),
	)
}

func (t *ScheduleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := t.ops.Schedule(ctx, reminder.ScheduleRequest{
		SubjectName:    req.GetString("patient_name", ""),
		Address:        req.GetString("email", ""),
		Medication:     req.GetString("medication_name", ""),
		TimeExpression: req.GetString("reminder_time", ""),
		Timezone:       req.GetString("timezone", ""),
	})
	return jsonResult(out.OK, messageResult{OK: out.OK, Kind: out.Kind, Message: out.Message, JobID: out.Value.JobID}), nil
}

// ─── CancelTool ─────────────────────────────────────────────────────────────

// CancelTool handles cancel_reminder.
type CancelTool struct{ ops Operations }

func NewCancelTool(ops Operations) *CancelTool { return &CancelTool{ops: ops} }

func (t *CancelTool) Definition() mcp.Tool {
	return mcp.NewTool("cancel_reminder",
		mcp.WithDescription("Cancel an active daily medication reminder."),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("The patient's email address used when the reminder was created"),
		),
		mcp.WithString("medication_name",
			mcp.Required(),
			mcp.Description("The medication whose reminder should be cancelled (case-insensitive)"),
		),
	)
}

func (t *CancelTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := t.ops.Cancel(ctx, req.GetString("email", ""), req.GetString("medication_name", ""))
	return jsonResult(out.OK, messageResult{OK: out.OK, Kind: out.Kind, Message: out.Message}), nil
}

// ─── ListActiveTool ─────────────────────────────────────────────────────────

// ListActiveTool handles list_reminders: every live job across all patients.
type ListActiveTool struct{ ops Operations }

func NewListActiveTool(ops Operations) *ListActiveTool { return &ListActiveTool{ops: ops} }

func (t *ListActiveTool) Definition() mcp.Tool {
	return mcp.NewTool("list_reminders",
		mcp.WithDescription("List all currently scheduled medication reminders across all patients, with their next run time."),
	)
}

func (t *ListActiveTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := t.ops.ListActive()
	return jsonResult(out.OK, listOf(out)), nil
}

// ─── PatientRemindersTool ───────────────────────────────────────────────────

// PatientRemindersTool handles get_patient_reminders: stored reminders of one email.
type PatientRemindersTool struct{ ops Operations }

func NewPatientRemindersTool(ops Operations) *PatientRemindersTool {
	return &PatientRemindersTool{ops: ops}
}

func (t *PatientRemindersTool) Definition() mcp.Tool {
	return mcp.NewTool("get_patient_reminders",
		mcp.WithDescription("List all scheduled reminders for a specific patient."),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("The patient's email address"),
		),
	)
}

func (t *PatientRemindersTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := t.ops.ListFor(ctx, req.GetString("email", ""))
	return jsonResult(out.OK, listOf(out)), nil
}
