package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "pgx"
	DialectMySQL    = "mysql"
)

// dialect captures the few places the three supported databases disagree:
// placeholder syntax, upsert syntax, and catalog lookups.
type dialect struct {
	name string
}

func newDialect(name string) (dialect, error) {
	switch name {
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return dialect{name: name}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported queue dialect %q", name)
	}
}

// rebind rewrites ? placeholders to $N for postgres. Queries in this package
// never embed a literal question mark.
func (d dialect) rebind(query string) string {
	if d.name != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// upsert renders the conflict clause for an INSERT keyed by conflictColumn.
// Each assignment is "column = expr" where expr may reference the incoming
// value as NEW(column).
func (d dialect) upsert(conflictColumn string, assignments ...string) string {
	rendered := make([]string, 0, len(assignments))
	for _, assignment := range assignments {
		rendered = append(rendered, d.renderIncoming(assignment))
	}
	if d.name == DialectMySQL {
		return " ON DUPLICATE KEY UPDATE " + strings.Join(rendered, ", ")
	}
	return " ON CONFLICT (" + conflictColumn + ") DO UPDATE SET " + strings.Join(rendered, ", ")
}

func (d dialect) renderIncoming(expr string) string {
	for {
		start := strings.Index(expr, "NEW(")
		if start < 0 {
			return expr
		}
		end := strings.Index(expr[start:], ")")
		if end < 0 {
			return expr
		}
		column := expr[start+4 : start+end]
		var incoming string
		if d.name == DialectMySQL {
			incoming = "VALUES(" + column + ")"
		} else {
			incoming = "excluded." + column
		}
		expr = expr[:start] + incoming + expr[start+end+1:]
	}
}

func (d dialect) tableExistsQuery() string {
	switch d.name {
	case DialectPostgres:
		return "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	case DialectMySQL:
		return "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		return "SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}
}

// qualify prefixes a column with the table name where the dialect needs it to
// disambiguate from the incoming row inside an upsert.
func (d dialect) qualify(table, column string) string {
	if d.name == DialectMySQL {
		return column
	}
	return table + "." + column
}

const (
	sqliteBusyCode          = 5
	mysqlDeadlockCode       = 1213
	mysqlLockWaitCode       = 1205
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	contentionRetryAttempts = 5
)

// isContention reports lock contention errors that are safe to retry.
func isContention(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlockCode || myErr.Number == mysqlLockWaitCode
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
