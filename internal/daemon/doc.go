// Package daemon ties the job store, worker pool, and HTTP API into a
// single-instance background service guarded by a file lock.
package daemon
