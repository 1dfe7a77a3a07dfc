package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// NoPathOnWireError reports that the request is missing a file path.
	NoPathOnWireError = New("file path is required")
	// NoMessageOnWireError reports that the request is missing a message.
	NoMessageOnWireError = New("no message on wire")
	// NotADirectoryError reports that a listed path is not a directory.
	NotADirectoryError = New("not a directory")
)

// IsBadRequest reports whether the error is a bad request from the caller.
func IsBadRequest(e error) bool {
	var unknown *UnknownOperationError
	return stderr.Is(e, NoPathOnWireError) || stderr.Is(e, NoMessageOnWireError) || stderr.As(e, &unknown)
}
