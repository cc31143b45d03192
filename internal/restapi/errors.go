package restapi

import "fmt"

// RemoteUnavailableError covers transport failures, non-200 responses and
// undecodable bodies from the motion data store.
type RemoteUnavailableError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *RemoteUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s: HTTP %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }
