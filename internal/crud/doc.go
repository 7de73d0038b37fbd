// Package crud is the teaching façade over the user repository. It moves
// between a disconnected and a connected state, exposes one method per CRUD
// operation and never returns an error: failures are logged and reported as
// neutral values ("", nil, false or 0).
package crud
