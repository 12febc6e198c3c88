// Package services defines the shared error taxonomy for job processing and
// the helpers that map failures onto job statuses and retry decisions.
package services
