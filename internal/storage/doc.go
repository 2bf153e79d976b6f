// Package storage is the durable store for users, habits, goals, entries and
// reminders. The scheduler never touches a driver directly; it consumes the
// Store interface so tests can substitute an in-memory implementation.
//
// Schedule state is deliberately NOT persisted: timers are re-derived from
// reminder rows at startup (and by the periodic resweep).
package storage
