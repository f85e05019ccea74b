package sensorthings

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common conditions.
var (
	// ErrNoSuchEntity is returned when a referenced entity does not exist.
	ErrNoSuchEntity = errors.New("sensorthings: no such entity")

	// ErrIncompleteEntity is returned when a required property is missing.
	ErrIncompleteEntity = errors.New("sensorthings: incomplete entity")

	// ErrUnsupportedRelation is returned when a relation is used in a way
	// its kind cannot support.
	ErrUnsupportedRelation = errors.New("sensorthings: unsupported relation operation")

	// ErrClosed is returned when a persistence manager is used after its
	// transaction was committed, rolled back or closed.
	ErrClosed = errors.New("sensorthings: persistence manager is closed")
)

// IncompleteEntityError is returned when a required property (entity or
// navigation) is missing, or a mandatory relation would become absent.
type IncompleteEntityError struct {
	Type     string // Entity type name
	Property string // Missing property, if known
	Reason   string // Optional detail
}

// Error returns the error string.
func (e *IncompleteEntityError) Error() string {
	msg := fmt.Sprintf("sensorthings: incomplete %s", e.Type)
	if e.Property != "" {
		msg += fmt.Sprintf(": missing required property %q", e.Property)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports whether the target error matches IncompleteEntityError.
func (e *IncompleteEntityError) Is(err error) bool {
	return err == ErrIncompleteEntity
}

// NewIncompleteEntityError returns a new IncompleteEntityError.
func NewIncompleteEntityError(typ, property string) *IncompleteEntityError {
	return &IncompleteEntityError{Type: typ, Property: property}
}

// IsIncompleteEntity returns true if the error is an IncompleteEntityError.
func IsIncompleteEntity(err error) bool {
	if err == nil {
		return false
	}
	var e *IncompleteEntityError
	return errors.As(err, &e) || errors.Is(err, ErrIncompleteEntity)
}

// NoSuchEntityError is returned when a referenced navigation target does not
// exist and auto-creation was not requested.
type NoSuchEntityError struct {
	Type string // Entity type name
	ID   any    // Optional: the key that was searched for
}

// Error returns the error string.
func (e *NoSuchEntityError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("sensorthings: no such %s (id=%v)", e.Type, e.ID)
	}
	return fmt.Sprintf("sensorthings: no such %s", e.Type)
}

// Is reports whether the target error matches NoSuchEntityError.
func (e *NoSuchEntityError) Is(err error) bool {
	return err == ErrNoSuchEntity
}

// NewNoSuchEntityError returns a new NoSuchEntityError.
func NewNoSuchEntityError(typ string, id any) *NoSuchEntityError {
	return &NoSuchEntityError{Type: typ, ID: id}
}

// IsNoSuchEntity returns true if the error is a NoSuchEntityError.
func IsNoSuchEntity(err error) bool {
	if err == nil {
		return false
	}
	var e *NoSuchEntityError
	return errors.As(err, &e) || errors.Is(err, ErrNoSuchEntity)
}

// UnsupportedRelationError signals structural misuse of a relation, such as
// unlinking a one-to-many relation or joining on a multi-column key. It
// indicates a schema or configuration defect and is not meant to be retried.
type UnsupportedRelationError struct {
	Relation string // Relation (navigation) name
	Op       string // Operation, e.g. "link", "unlink", "join"
	Reason   string
}

// Error returns the error string.
func (e *UnsupportedRelationError) Error() string {
	return fmt.Sprintf("sensorthings: relation %s does not support %s: %s", e.Relation, e.Op, e.Reason)
}

// Is reports whether the target error matches UnsupportedRelationError.
func (e *UnsupportedRelationError) Is(err error) bool {
	return err == ErrUnsupportedRelation
}

// NewUnsupportedRelationError returns a new UnsupportedRelationError.
func NewUnsupportedRelationError(relation, op, reason string) *UnsupportedRelationError {
	return &UnsupportedRelationError{Relation: relation, Op: op, Reason: reason}
}

// IsUnsupportedRelation returns true if the error is an UnsupportedRelationError.
func IsUnsupportedRelation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedRelationError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedRelation)
}

// TransactionError wraps a failure of the underlying transaction: begin,
// commit, or statement execution.
type TransactionError struct {
	Op  string // Operation (e.g., "begin", "commit", "insert")
	Err error  // Underlying error
}

// Error returns the error string.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("sensorthings: transaction %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NewTransactionError returns a new TransactionError.
func NewTransactionError(op string, err error) *TransactionError {
	return &TransactionError{Op: op, Err: err}
}

// IsTransactionError returns true if the error is a TransactionError.
func IsTransactionError(err error) bool {
	if err == nil {
		return false
	}
	var e *TransactionError
	return errors.As(err, &e)
}

// NotFoundError is returned when a requested entity does not exist.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("sensorthings: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("sensorthings: %s not found", e.label)
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type and key.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e)
}

// PrivacyError represents a privacy policy violation.
type PrivacyError struct {
	Entity string // Entity type
	Op     string // Operation
	Err    error  // Decision returned by the policy
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensorthings: privacy denied %s on %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("sensorthings: privacy denied %s on %s", e.Op, e.Entity)
}

// Unwrap returns the policy decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(entity, op string, err error) *PrivacyError {
	return &PrivacyError{Entity: entity, Op: op, Err: err}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}

// IsValidationError reports whether err is a request-validation failure
// the caller can fix and retry (incomplete entity or missing reference).
func IsValidationError(err error) bool {
	return IsIncompleteEntity(err) || IsNoSuchEntity(err)
}
