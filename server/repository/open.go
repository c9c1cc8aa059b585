package repository

import (
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3_with_go_func"

var registerOnce sync.Once

func regex(re, s string) (bool, error) {
	return regexp.MatchString(re, s)
}

// Open opens the sqlite database at path with a REGEXP function available
// to queries. One connection is kept so writers never contend.
func Open(path string) (*sql.DB, error) {
	registerOnce.Do(func() {
		sql.Register(driverName,
			&sqlite3.SQLiteDriver{
				ConnectHook: func(conn *sqlite3.SQLiteConn) error {
					return conn.RegisterFunc("regexp", regex, true)
				},
			})
	})
	db, err := sql.Open(driverName, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}
