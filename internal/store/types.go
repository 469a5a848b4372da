package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no live record matches the lookup.
var ErrNotFound = errors.New("record not found")

// DuplicateActiveCodeError is returned when an insert collides with another
// record of the same code that is still in custody.
type DuplicateActiveCodeError struct {
	Code string
	Err  error
}

func (e *DuplicateActiveCodeError) Error() string {
	return fmt.Sprintf("code %s is already in custody: %v", e.Code, e.Err)
}

func (e *DuplicateActiveCodeError) Unwrap() error { return e.Err }

// ListOptions narrows List.
type ListOptions struct {
	IncludeDeleted bool
	ActiveOnly     bool
}

// Fields is a column -> value map for partial updates. Values may be
// gorm.Expr for set-oriented statements.
type Fields map[string]any

const pgUniqueViolation = "23505"

// isUniqueViolation recognizes unique constraint failures from every driver
// the service runs on.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return true
	}
	return false
}
