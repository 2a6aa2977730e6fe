package biz

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine, matched with errors.Is
var (
	ErrNotFound            = errors.New("file not found")
	ErrWriteFailed         = errors.New("file write failed")
	ErrIO                  = errors.New("storage i/o failed")
	ErrInconsistentState   = errors.New("metadata and storage are inconsistent")
	ErrContentBusy         = errors.New("content is being retired")
	ErrInvalidID           = errors.New("invalid file id")
	ErrIDExists            = errors.New("file id already exists")
	ErrMetadataUnavailable = errors.New("metadata store unavailable")
)

// Sentinels shared with the data layer
var (
	ErrBlobNotFound   = errors.New("blob not found")
	ErrRecordNotFound = errors.New("record not found")
)

// StorageError carries the failed operation and logical id along with its kind
type StorageError struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func storageErr(op, id string, kind, err error) *StorageError {
	return &StorageError{Op: op, ID: id, Kind: kind, Err: err}
}
