// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the embedded durable Store:
// write-ahead logging with full synchronization, schema migrations, and
// the query layer the Batch Writer and Experiment Coordinator build on.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
)

var hooksRegistered sync.Once

// Store wraps the embedded sqlite connection and a prepared-statement
// cache shared by every query builder in this package.
type Store struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
}

// Open connects to path under WAL journaling with FULL synchronization
//, runs schema migrations up to the latest version, and
// returns a ready Store. sqlite does not tolerate concurrent writers, so
// the pool is capped at one connection: all mutation is serialized
// through the Batch Writer regardless.
func Open(path string) (*Store, error) {
	hooksRegistered.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryLogHooks{}))
	})

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3WithHooks", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	log.Infof("store: opened %s", path)
	return &Store{DB: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
