//go:build !cgo_sqlite

package sqlite

// Compiled by default. Uses the pure Go SQLite implementation, no C toolchain required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	DriverName = "sqlite"
	BuildMode  = "purego"
)
