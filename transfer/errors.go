package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrTransferInProgress = errors.New("transfer already in progress")
	ErrSourceNotFound     = errors.New("source not found")
	ErrPartialCommit      = errors.New("partial commit")
)

// PartialCommitError reports a transfer whose first write landed and whose
// second did not. Nothing is rolled back: the moved documents may be in both
// containers, or in neither, until a later transfer reconciles them.
type PartialCommitError struct {
	Committed string
	Failed    string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: wrote %v but failed to write %v: %v", e.Committed, e.Failed, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

func (e *PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}
