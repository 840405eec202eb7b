package sqlite

import (
	"database/sql"
	"errors"

	sqlitedriver "modernc.org/sqlite"
)

// SQLite extended result codes for constraint violations.
const (
	codeConstraintForeignKey = 787
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

// IsDuplicateError checks if error is a unique constraint violation
func IsDuplicateError(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == codeConstraintPrimaryKey || code == codeConstraintUnique
	}
	return false
}

// IsNoRowsError checks if error is a "no rows" error
func IsNoRowsError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsForeignKeyError checks if error is a foreign key violation
func IsForeignKeyError(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == codeConstraintForeignKey
	}
	return false
}
