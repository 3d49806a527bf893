// Package handlers implements the HTTP endpoints of the agentwire API:
// agent directory, task lifecycle, message exchange, event history and
// health probes. Every endpoint returns the same Response envelope, and
// runtime sentinel errors are mapped onto HTTP statuses in one place.
package handlers
