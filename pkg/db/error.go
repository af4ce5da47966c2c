package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsDuplicateKeyErr reports whether err is a unique or primary key
// violation on any of the supported dialects.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	for _, marker := range []string{
		"duplicate key value violates unique constraint", // postgres, untyped
		"Error 1062",               // mysql
		"UNIQUE constraint failed", // sqlite
		"PRIMARY KEY constraint failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
