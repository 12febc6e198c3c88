// Package queue persists transformation jobs in SQLite and doubles as the
// durable hand-off between the submission API and the worker pool. Claiming a
// job is a guarded row-level update, so a pending job is delivered to at most
// one worker at a time; crash recovery runs through heartbeat-based reclaim.
package queue
