// Package workflow coordinates the worker pool that drains the job queue.
// Workers claim pending jobs, hand them to the kind-matched transform
// handler, and persist the outcome. A heartbeat monitor reclaims jobs whose
// worker died mid-processing.
package workflow
