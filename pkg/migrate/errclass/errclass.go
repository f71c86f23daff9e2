// package errclass
//
// classifies transfer failures so callers can decide how (and whether) to retry them
package errclass

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"

	"github.com/go-sql-driver/mysql"
)

// Class : failure classification carried on a failed item
type Class string

const (
	SchemaCreation      Class = "SCHEMA_CREATION_ERROR"
	ConnectionLost      Class = "CONNECTION_LOST"
	Timeout             Class = "TIMEOUT"
	ConstraintViolation Class = "CONSTRAINT_VIOLATION"
	// Unclassified : anything we could not map, never retried automatically
	Unclassified Class = "UNCLASSIFIED"
)

// Retryable : classes eligible for automatic retry
func (c Class) Retryable() bool {
	return c == ConnectionLost || c == Timeout
}

// Error : a classified failure
type Error struct {
	Class   Class  `json:"class"`
	Message string `json:"message"`
	// RowID identifies the offending source row for constraint violations when known
	RowID string `json:"row_id,omitempty"`
	err   error
}

func (e *Error) Error() string {
	if e.RowID != "" {
		return fmt.Sprintf("%s : %s (row %s)", e.Class, e.Message, e.RowID)
	}
	return fmt.Sprintf("%s : %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// New : wraps err with an explicit class
func New(c Class, err error) *Error {
	if err == nil {
		err = errors.New(string(c))
	}
	return &Error{Class: c, Message: err.Error(), err: err}
}

// WithRow : constraint violation on a known source row
func WithRow(err error, rowID string) *Error {
	e := Classify(err)
	e.RowID = rowID
	return e
}

// mysql server error numbers
var (
	constraintCodes = map[uint16]bool{
		1048: true, // column cannot be null
		1062: true, // duplicate entry
		1216: true, // no referenced row (old)
		1217: true, // row is referenced (old)
		1364: true, // field has no default
		1451: true, // row is referenced
		1452: true, // no referenced row
	}
	schemaCodes = map[uint16]bool{
		1050: true, // table exists
		1064: true, // syntax error
		1071: true, // key too long
		1074: true, // column length too big
		1118: true, // row size too large
		1166: true, // bad column name
		1170: true, // blob key without length
		1304: true, // routine exists
	}
)

var duplicateEntry = regexp.MustCompile(`Duplicate entry '(.*)' for key`)

// Classify : maps an error onto the taxonomy, errors already classified pass through
func Classify(err error) *Error {
	return classify(err, Unclassified)
}

// ClassifySchema : like Classify but anything not otherwise recognised is a schema creation error
func ClassifySchema(err error) *Error {
	return classify(err, SchemaCreation)
}

func classify(err error, fallback Class) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(Timeout, err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch {
		case constraintCodes[me.Number]:
			ce := New(ConstraintViolation, err)
			if m := duplicateEntry.FindStringSubmatch(me.Message); m != nil {
				ce.RowID = m[1]
			}
			return ce
		case schemaCodes[me.Number]:
			return New(SchemaCreation, err)
		}
		return New(fallback, err)
	}
	var ne net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.As(err, &ne) {
		if ne != nil && ne.Timeout() {
			return New(Timeout, err)
		}
		return New(ConnectionLost, err)
	}
	return New(fallback, err)
}
