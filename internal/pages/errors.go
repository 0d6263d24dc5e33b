package pages

import (
	"errors"
	"net/http"
)

// Kind classifies a pages failure. Handlers map it to an HTTP status.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidName
	NotFound
	UnknownContentType
	ReadFailure
	ParseFailure
	ResolutionFailure
	TemplateFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidName:
		return "invalid_name"
	case NotFound:
		return "not_found"
	case UnknownContentType:
		return "unknown_content_type"
	case ReadFailure:
		return "read_failure"
	case ParseFailure:
		return "parse_failure"
	case ResolutionFailure:
		return "resolution_failure"
	case TemplateFailure:
		return "template_failure"
	}
	return "unknown"
}

// ErrNoContent is returned when the content source has no active tree yet.
var ErrNoContent = errors.New("no active content")

// Error is the typed failure returned by every operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// StatusOf maps err to the status a client should see.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case InvalidName, UnknownContentType:
		return http.StatusBadRequest
	case NotFound, ResolutionFailure:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Message is the human readable text sent to clients for err. Underlying
// OS and parser errors stay in the log.
func Message(err error) string {
	switch KindOf(err) {
	case InvalidName:
		return "invalid file name"
	case UnknownContentType:
		return "could not determine content type"
	case NotFound, ResolutionFailure:
		return "page not found"
	case ReadFailure:
		return "failed to read content"
	case ParseFailure:
		return "failed to parse page metadata"
	case TemplateFailure:
		return "failed to render page"
	}
	return "internal server error"
}
