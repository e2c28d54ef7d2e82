// Package notifier delivers reminder firings by email.
//
// Dispatch is called from a task engine worker for every firing. Without SMTP
// credentials the service runs in degraded mode: each firing is logged and
// skipped and nothing fails. Transport errors are returned wrapped in
// reminder.ErrDispatch so the engine can retry and log them; they never reach
// the trigger loop.
//
// A small in-memory history of recent deliveries is kept for /status.
package notifier
