// Package application wires the configured user store, the HTTP handlers and
// router, and the HTTP server, so that the main package only deals with CLI
// parsing and shutdown.
package application
