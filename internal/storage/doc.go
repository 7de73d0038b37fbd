// Package storage owns the MongoDB side of the toolkit: the client handle
// lifecycle, the user document model, and a repository that translates CRUD
// calls into driver operations. Errors are wrapped around the sentinel values
// in errors.go so callers can tell connectivity, not-found and duplicate-key
// failures apart.
package storage
