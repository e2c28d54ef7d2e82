// Package scheduler owns the table of recurring triggers.
//
// It only decides when something should run. Each firing is handed to the
// task engine, so a slow or failing job never delays another trigger. Entries
// are keyed by name and registering an existing name replaces it atomically.
package scheduler
