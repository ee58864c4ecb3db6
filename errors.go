// Package cellrope provides a sparse, collaboratively editable matrix backed by
// a chain of run and padding segments addressed in row-major order.
package cellrope

import "errors"

// Segment errors
var (
	// ErrInvalidAppend indicates that Append was called with a segment of a different variant.
	ErrInvalidAppend = errors.New("invalid append: segment variants differ")

	// ErrUnrecognizedSegment indicates a segment or serialized shape outside the run/padding set.
	ErrUnrecognizedSegment = errors.New("unrecognized segment")

	// ErrInvalidValue indicates a serialized cell value that is not absent, boolean, number or text.
	ErrInvalidValue = errors.New("invalid cell value")
)

// Cell errors
var (
	// ErrInvalidTagTarget indicates an attempt to tag an empty cell with a concrete tag.
	ErrInvalidTagTarget = errors.New("cannot tag an empty cell")

	// ErrOutOfBounds indicates a row or column outside the addressable matrix.
	ErrOutOfBounds = errors.New("cell address out of bounds")

	// ErrInvalidCount indicates a non-positive or overflowing row/column count.
	ErrInvalidCount = errors.New("invalid row or column count")
)

// Chain errors
var (
	// ErrInvalidPosition indicates that a linear position is outside the chain's extent.
	ErrInvalidPosition = errors.New("position out of bounds")

	// ErrReferenceDetached indicates that a local reference no longer points into the chain.
	ErrReferenceDetached = errors.New("local reference is detached")

	// ErrInvalidOp indicates a structural change descriptor that cannot be applied.
	ErrInvalidOp = errors.New("invalid structural change")
)

// Library errors
var (
	// ErrSnapshotNotFound indicates that no snapshot is stored for a matrix id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrTypeMismatch indicates a snapshot whose type is not the matrix type.
	ErrTypeMismatch = errors.New("snapshot type mismatch")

	// ErrUnknownType indicates that no factory is registered for a type identifier.
	ErrUnknownType = errors.New("unknown factory type")

	// ErrMatrixNotFound indicates that the matrix does not belong to this library.
	ErrMatrixNotFound = errors.New("matrix not found")

	// ErrDuplicateMatrix indicates that a matrix with the same id is already active.
	ErrDuplicateMatrix = errors.New("matrix id already in use")

	// ErrNotAttached indicates an operation that requires a submitter on an unattached matrix.
	ErrNotAttached = errors.New("matrix is not attached")

	// ErrNoStore indicates that a snapshot store is required but not configured.
	ErrNoStore = errors.New("snapshot store not configured")
)

// Storage errors
var (
	// ErrFileNotOpen indicates a file handle that is not open.
	ErrFileNotOpen = errors.New("file not open")

	// ErrStoreClosed indicates use of a store after Close.
	ErrStoreClosed = errors.New("store is closed")
)
