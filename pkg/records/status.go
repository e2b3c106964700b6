package records

import (
	"errors"
	"fmt"
)

// ImportStatus is the lifecycle state of an ImportFile.
type ImportStatus string

const (
	StatusNew               ImportStatus = "new"
	StatusRawSubmitted      ImportStatus = "raw_submitted"
	StatusRawDone           ImportStatus = "raw_done"
	StatusMappingSubmitted  ImportStatus = "mapping_submitted"
	StatusMappingDone       ImportStatus = "mapping_done"
	StatusMappingFinalized  ImportStatus = "mapping_finalized"
	StatusMatchingSubmitted ImportStatus = "matching_submitted"
	StatusMatched           ImportStatus = "matched"
	StatusFailed            ImportStatus = "failed"
)

// ErrInvalidTransition is returned when an ImportFile status change skips or
// reverses a step, or the file is no longer in the expected status.
var ErrInvalidTransition = errors.New("invalid import status transition")

var nextStatus = map[ImportStatus]ImportStatus{
	StatusNew:               StatusRawSubmitted,
	StatusRawSubmitted:      StatusRawDone,
	StatusRawDone:           StatusMappingSubmitted,
	StatusMappingSubmitted:  StatusMappingDone,
	StatusMappingDone:       StatusMappingFinalized,
	StatusMappingFinalized:  StatusMatchingSubmitted,
	StatusMatchingSubmitted: StatusMatched,
}

// IsTerminal reports whether no further transition is possible.
func (s ImportStatus) IsTerminal() bool {
	return s == StatusMatched || s == StatusFailed
}

// CanTransition reports whether from → to is a legal step: the next status in
// sequence, or failed from any non-terminal status.
func CanTransition(from, to ImportStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return nextStatus[from] == to
}

func invalidTransition(from, to ImportStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
