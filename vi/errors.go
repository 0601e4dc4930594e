package vi

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// IsPendingChange reports whether err was returned because a selection change
// is waiting for OriginChunks, or because a write targeted a sub-chunk that
// is no longer current.
func IsPendingChange(err error) bool { return errors.Is(errors.Precondition, err) }

// IsInvalidSelection reports whether err rejects a channel or frequency
// selection, or a buffer whose shape does not match the current sub-chunk.
func IsInvalidSelection(err error) bool { return errors.Is(errors.Invalid, err) }

// IsSchemaMissing reports whether err was returned for a write to an absent
// optional column.
func IsSchemaMissing(err error) bool { return errors.Is(errors.NotExist, err) }

func pendingChangeError(op string) error {
	return errors.E(errors.Precondition, fmt.Sprintf("vi: %s: selection change pending; call OriginChunks first", op))
}

func noSubChunkError(op string) error {
	return errors.E(errors.Precondition, fmt.Sprintf("vi: %s: no current sub-chunk", op))
}

func invalidSelection(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("vi: invalid selection: "+format, args...))
}

func shapeError(what string, got, want interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("vi: %s: shape %v, want %v", what, got, want))
}

func schemaMissing(ms, column string) error {
	return errors.E(errors.NotExist, fmt.Sprintf("vi: ms %s has no column %s", ms, column))
}
