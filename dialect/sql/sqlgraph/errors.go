package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ConstraintError wraps a database constraint violation raised by a
// statement of the graph.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string { return "sqlgraph: " + e.msg }

// Unwrap implements the errors.Wrapper interface.
func (e *ConstraintError) Unwrap() error { return e.wrap }

// violation is a class of constraint violations and how each driver
// reports it.
type violation struct {
	sqlState string
	mysql    []uint16
	messages []string
}

var (
	uniqueViolation = violation{
		sqlState: "23505",
		mysql:    []uint16{1062},
		messages: []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"},
	}
	foreignKeyViolation = violation{
		sqlState: "23503",
		// 1451: parent row in use, 1452: missing parent row.
		mysql:    []uint16{1451, 1452},
		messages: []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"},
	}
	checkViolation = violation{
		sqlState: "23514",
		mysql:    []uint16{3819},
		messages: []string{"Error 3819", "violates check constraint", "CHECK constraint failed"},
	}
)

// Implemented by pq.Error and pgconn.PgError.
type sqlStateError interface {
	SQLState() string
}

// match reports whether err is a violation of the class. Errors of drivers
// exposing no code are matched on their message.
func (v violation) match(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == v.sqlState {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		for _, n := range v.mysql {
			if me.Number == n {
				return true
			}
		}
	}
	msg := err.Error()
	for _, s := range v.messages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a uniqueness
// constraint violation.
func IsUniqueConstraintError(err error) bool { return uniqueViolation.match(err) }

// IsForeignKeyConstraintError reports if the error resulted from a foreign
// key constraint violation, such as a reference to a missing row.
func IsForeignKeyConstraintError(err error) bool { return foreignKeyViolation.match(err) }

// IsCheckConstraintError reports if the error resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool { return checkViolation.match(err) }

// asError returns the first error of the chain implementing T.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// wrapConstraint wraps constraint violations in a ConstraintError.
func wrapConstraint(err error) error {
	if err != nil && !errors.As(err, new(*ConstraintError)) && IsConstraintError(err) {
		return &ConstraintError{msg: err.Error(), wrap: err}
	}
	return err
}
