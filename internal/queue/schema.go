package queue

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed schema_sqlite.sql
	schemaSQLite string
	//go:embed schema_postgres.sql
	schemaPostgres string
	//go:embed schema_mysql.sql
	schemaMySQL string
)

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

func (d dialect) schema() string {
	switch d.name {
	case DialectPostgres:
		return schemaPostgres
	case DialectMySQL:
		return schemaMySQL
	default:
		return schemaSQLite
	}
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.queryRow(ctx, s.dialect.tableExistsQuery(), "schema_version").Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.queryRow(ctx, "SELECT version FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (clear the queue database or migrate it)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range splitStatements(s.dialect.schema()) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}
