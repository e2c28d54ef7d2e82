// Package reminder implements daily medication reminders: time expression
// normalization, key derivation, and the operations that keep the durable
// store and the live job table in step.
package reminder
