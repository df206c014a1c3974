// Package storage wraps the PostgreSQL schema behind typed queries.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"crm-automation/internal/config"
)

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL through the pgx driver and verifies the
// connection with a ping.
func Open(cfg config.PostgresConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// pqStringArray adapts a []string target for scanning a Postgres text[].
func pqStringArray(dst *[]string) sql.Scanner {
	return pq.Array(dst)
}
