/*
errors.go - Entry-tagged errors and the append-only error log

PURPOSE:
  Every failure the engine reports is attached to the entry that caused it.
  There are two classes:

  Hard:  The entry could not be processed at all (missing or ambiguous
         policy, ambiguous conversion, disproportionate balance, malformed
         directive). The entry is passed through or dropped.
  Soft:  Something looks wrong but processing of the entry still produced
         output (balance mismatch, unresolved link).

  Both end up in an ErrorLog that is threaded through one pass. Nothing is
  raised to the caller; the caller decides whether any logged error is fatal.

SEE ALSO:
  - policy/errors.go, split/errors.go, link/errors.go: causes
*/
package ledger

import (
	"errors"
	"fmt"
)

// EntryError ties a cause to the entry that produced it.
type EntryError struct {
	Entry  Entry
	Source Source
	Err    error
	Soft   bool
}

// NewEntryError builds a hard error for entry. entry may be nil.
func NewEntryError(entry Entry, err error) *EntryError {
	e := &EntryError{Entry: entry, Err: err}
	if entry != nil {
		e.Source = entry.Head().Meta.Source()
	}
	return e
}

// NewSoftError builds a soft error for entry.
func NewSoftError(entry Entry, err error) *EntryError {
	e := NewEntryError(entry, err)
	e.Soft = true
	return e
}

func (e *EntryError) Error() string {
	if e.Entry == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s %s: %v",
		e.Source, e.Entry.Head().Date.Format(DateLayout), e.Entry.Kind(), e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// IsSoft reports whether err is, or wraps, a soft entry error.
func IsSoft(err error) bool {
	var ee *EntryError
	return errors.As(err, &ee) && ee.Soft
}

// ErrorLog accumulates errors in the order they occur.
type ErrorLog struct {
	errs []error
}

// Add appends a hard error for entry.
func (l *ErrorLog) Add(entry Entry, err error) {
	if err == nil {
		return
	}
	var ee *EntryError
	if errors.As(err, &ee) {
		l.errs = append(l.errs, err)
		return
	}
	l.errs = append(l.errs, NewEntryError(entry, err))
}

// AddSoft appends a soft error for entry.
func (l *ErrorLog) AddSoft(entry Entry, err error) {
	if err == nil {
		return
	}
	l.errs = append(l.errs, NewSoftError(entry, err))
}

// Append adds already-tagged errors, such as those returned by a loader.
func (l *ErrorLog) Append(errs ...error) {
	for _, err := range errs {
		if err != nil {
			l.errs = append(l.errs, err)
		}
	}
}

// Errors returns a copy of the logged errors.
func (l *ErrorLog) Errors() []error {
	return append([]error(nil), l.errs...)
}

func (l *ErrorLog) Len() int {
	return len(l.errs)
}
