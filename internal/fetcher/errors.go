package fetcher

import "fmt"

// FetchKind classifies a failed fetch.
type FetchKind int

// Fetch failure kinds.
const (
	KindTimeout FetchKind = iota
	KindHTTPStatus
	KindNoEntries
	KindTransport
)

// FetchError is the outcome of a failed fetch. It is recorded against the
// feed and surfaced through analytics; it never aborts a cycle.
type FetchError struct {
	Kind FetchKind
	Code int // HTTP status for KindHTTPStatus
	msg  string
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "Timeout"
	case KindHTTPStatus:
		return fmt.Sprintf("HTTP %d", e.Code)
	case KindNoEntries:
		return "No entries found"
	default:
		return e.msg
	}
}

func timeoutErr() *FetchError {
	return &FetchError{Kind: KindTimeout}
}

func statusErr(code int) *FetchError {
	return &FetchError{Kind: KindHTTPStatus, Code: code}
}

func noEntriesErr() *FetchError {
	return &FetchError{Kind: KindNoEntries}
}

func transportErr(err error) *FetchError {
	return &FetchError{Kind: KindTransport, msg: err.Error()}
}
