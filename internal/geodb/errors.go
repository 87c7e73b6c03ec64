package geodb

import "fmt"

// FetchError indicates a network or IO failure while retrieving the
// database. It is retryable on a later run and does not invalidate a cached
// snapshot.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError indicates a malformed database. It is fatal for the run: no
// live state may be mutated from a half-decoded database.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding geo database: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
