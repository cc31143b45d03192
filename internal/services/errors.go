package services

import (
	"errors"
	"fmt"
)

var (
	ErrDestinationExists = errors.New("destination already exists")
	ErrPathNotAllowed    = errors.New("path outside managed storage")
)

// StorageUnavailableError means a storage directory cannot be used at all,
// so no file of the batch was attempted.
type StorageUnavailableError struct {
	Dir string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Dir, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// FileOperationError is a single-file failure inside a batch.
type FileOperationError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOperationError) Unwrap() error { return e.Err }

// PathTypeConflictError is returned when a path exists with the wrong type.
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("path type conflict: %q (want %s, got %s)", e.Path, e.Want, e.Got)
}
