// Package speechlab implements the HTTP client for the external speech
// transformation service. Jobs are submitted, polled for status, and the
// finished media fetched through the service's asynchronous REST API.
package speechlab
