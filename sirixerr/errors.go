// Package sirixerr defines the sentinel error taxonomy shared across the
// page-tree, transaction, and index layers.
//
// Components wrap one of these sentinels with fmt.Errorf("%w", ...) and a
// short component-prefixed message rather than defining their own error
// types; callers use errors.Is against the sentinels below.
package sirixerr

import "errors"

var (
	// ErrIO covers underlying resource-file or transaction-log IO failures.
	ErrIO = errors.New("sirix: io failure")

	// ErrPageNotFound indicates a live pointer referenced a page that could
	// not be located or decoded.
	ErrPageNotFound = errors.New("sirix: page not found")

	// ErrCorruption indicates a page or record failed to deserialize.
	ErrCorruption = errors.New("sirix: corrupt page or record")

	// ErrInvariantViolation covers attempted moves into a descendant,
	// mutation of a closed transaction, duplicate name-key insertion, and
	// similar structural violations that must not corrupt state.
	ErrInvariantViolation = errors.New("sirix: invariant violation")

	// ErrBadArgument covers negative node keys, unknown revisions, and
	// unknown index numbers.
	ErrBadArgument = errors.New("sirix: bad argument")

	// ErrInvalidIndexType is returned when an index number does not map to
	// a known index kind (path, CAS, name). The source left this case
	// undefined (see spec Open Question 2); this module defines it
	// explicitly rather than returning nil.
	ErrInvalidIndexType = errors.New("sirix: invalid index type")

	// ErrWriterActive is returned by BeginNodeWriteTrx when a write
	// transaction is already open for the resource (§5 writer exclusivity).
	ErrWriterActive = errors.New("sirix: a write transaction is already active")

	// ErrTransactionClosed is returned by any operation attempted on a
	// transaction after Commit/Rollback/Close.
	ErrTransactionClosed = errors.New("sirix: transaction is closed")
)
