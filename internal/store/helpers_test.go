package store

import (
	"database/sql"
	"time"
)

func mockTime() time.Time {
	t, _ := time.Parse(time.RFC3339, "2026-02-10T12:00:00Z")
	return t
}

func errNoRowsForTest() error {
	return sql.ErrNoRows
}
