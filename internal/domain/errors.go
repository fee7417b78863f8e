package domain

import "fmt"

// FormatError reports a value that has the wrong shape for its column: a
// date-shaped header that is not a calendar date, a non-integer primary
// metric, or a non-numeric coordinate.
type FormatError struct {
	Column string
	Value  string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: column %q value %q: %v", e.Column, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// FetchError reports a source that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError reports a document the persistence backend did not accept.
// StatusCode and RequestID are filled in when the backend exposes them.
type StoreError struct {
	Key        string
	Driver     string
	StatusCode int
	RequestID  string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Key, e.Driver, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
