package mcptools

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `Medication reminder tools. Use schedule_reminder to set a daily reminder ` +
	`(one per patient email and medication; scheduling again replaces the time), ` +
	`cancel_reminder to stop it, get_patient_reminders to show one patient's reminders ` +
	`and list_reminders to see every live reminder with its next run time.`

// NewServer registers the four reminder tools on a new MCP server.
func NewServer(name string, ops Operations) *server.MCPServer {
	if name == "" {
		name = "medremind"
	}
	s := server.NewMCPServer(
		name,
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	schedule := NewScheduleTool(ops)
	s.AddTool(schedule.Definition(), schedule.Handle)

	cancel := NewCancelTool(ops)
	s.AddTool(cancel.Definition(), cancel.Handle)

	listActive := NewListActiveTool(ops)
	s.AddTool(listActive.Definition(), listActive.Handle)

	patient := NewPatientRemindersTool(ops)
	s.AddTool(patient.Definition(), patient.Handle)

	return s
}
