package errors

import (
	stderr "errors"
	"fmt"
)

// PathResolutionError indicates that a path could not be canonicalized.
type PathResolutionError struct {
	Path string
	Err  error
}

// Error is an implementation of the error interface.
func (n *PathResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve path %q: %v", n.Path, n.Err)
}

// Unwrap returns the underlying cause.
func (n *PathResolutionError) Unwrap() error { return n.Err }

// FileAccessError indicates that opening, reading or writing a file failed.
type FileAccessError struct {
	Op   string
	Path string
	Err  error
}

// Error is an implementation of the error interface.
func (n *FileAccessError) Error() string {
	return fmt.Sprintf("%s %q: %v", n.Op, n.Path, n.Err)
}

// Unwrap returns the underlying cause.
func (n *FileAccessError) Unwrap() error { return n.Err }

// OffsetOutOfRangeError indicates that an edit addresses a position beyond the buffer bounds.
type OffsetOutOfRangeError struct {
	Offset int
	Limit  int
}

// Error is an implementation of the error interface.
func (n *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset %d out of range [0, %d]", n.Offset, n.Limit)
}

// UnknownOperationError indicates that an edit message carries an operation outside the defined set.
type UnknownOperationError struct {
	Operation string
}

// Error is an implementation of the error interface.
func (n *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown edit operation %q", n.Operation)
}

// DocumentSizeLimitError indicates that a document has exceeded the permitted size limit.
type DocumentSizeLimitError struct {
	Size int64
}

// Error is an implementation of the error interface.
func (n *DocumentSizeLimitError) Error() string {
	return fmt.Sprintf("size of %d bytes exceeds permitted limit", n.Size)
}

// IsOutOfRange reports whether an OffsetOutOfRangeError is part of the error chain.
func IsOutOfRange(e error) bool {
	var oor *OffsetOutOfRangeError
	return stderr.As(e, &oor)
}

// IsPathResolution reports whether a PathResolutionError is part of the error chain.
func IsPathResolution(e error) bool {
	var pr *PathResolutionError
	return stderr.As(e, &pr)
}
