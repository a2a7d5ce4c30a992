package messages

import (
	"errors"
	"fmt"
)

// Kind classifies errors for the transport layer.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAdmission rejects an upload before anything is stored.
	KindAdmission
	// KindIngestion is a server side failure: storing, reading back, parsing
	// or persisting.
	KindIngestion
	// KindLookup rejects a malformed identifier or index before querying.
	KindLookup
	// KindNotFound is a well-formed request for something that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindIngestion:
		return "ingestion"
	case KindLookup:
		return "lookup"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var (
	ErrMissingFile       = errors.New("no file found")
	ErrUnsupportedType   = errors.New("file type not supported")
	ErrNameTooLong       = errors.New("file name is too long")
	ErrUnreadableContent = errors.New("file content is not readable text")
	ErrNameConflict      = errors.New("a file with that name already exists")
	ErrInvalidIndex      = errors.New("invalid message index")
	ErrFileNotFound      = errors.New("the requested file does not exist")
	ErrMessageNotFound   = errors.New("message not found")
)

// Error is the error type returned by the upload, ingestion and lookup
// operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func invalidIndex(param string) *Error {
	return newError(KindLookup, "resolve", fmt.Errorf("%w: %q", ErrInvalidIndex, param))
}
