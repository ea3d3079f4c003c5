//go:build cgo_sqlite

package sqlite

// Compiled with the cgo_sqlite tag. Uses the C SQLite amalgamation through mattn/go-sqlite3.
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverName = "sqlite3"
	BuildMode  = "cgo"
)
