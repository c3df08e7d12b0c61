package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the artifacts table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// go-sqlite3 connections do not share in-memory databases and serialise writes anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY,
		job_id TEXT UNIQUE NOT NULL,
		file_path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		status TEXT DEFAULT 'active',
		owner TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create artifacts table: %w", err)
	}

	return db, nil
}
