package correlate

import "fmt"

// MinVideoFiles is the smallest directory that yields at least one complete
// segment: the newest file is still being written.
const MinVideoFiles = 3

// InsufficientFilesError aborts a pass before any mutation.
type InsufficientFilesError struct {
	Found int
}

func (e *InsufficientFilesError) Error() string {
	return "need at least 2 files, otherwise the video file will be incomplete"
}

// TimestampParseError means a file name carries no usable YYYY-MM-DD-HH:MM:SS stamp.
type TimestampParseError struct {
	Name string
	Err  error
}

func (e *TimestampParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse start time from %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("parse start time from %q: no YYYY-MM-DD-HH:MM:SS timestamp", e.Name)
}

func (e *TimestampParseError) Unwrap() error { return e.Err }
