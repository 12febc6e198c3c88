// Package httpapi exposes the job submission and status API. Asynchronous
// submissions enqueue jobs for the worker pool; the synchronous dub endpoint
// drives a job inline and streams the dubbed media back in the response.
package httpapi
