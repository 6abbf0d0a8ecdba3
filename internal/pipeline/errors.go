package pipeline

import (
	"fmt"
	"strings"
)

// Stage is one sub-step of the commit sequence, in execution order.
type Stage string

const (
	StageSheetWrite   Stage = "sheet_write"
	StageStateAdvance Stage = "state_advance"
	StageAuditAppend  Stage = "audit_append"
	StageEmailArchive Stage = "email_archive"
)

// CommitError reports that the commit sequence stopped at Stage after the
// stages in Progress completed durably.
type CommitError struct {
	Stage    Stage
	Progress []Stage
	Err      error
}

func (e *CommitError) Error() string {
	done := "nothing"
	if len(e.Progress) > 0 {
		names := make([]string, len(e.Progress))
		for i, s := range e.Progress {
			names[i] = string(s)
		}
		done = strings.Join(names, ", ")
	}
	return fmt.Sprintf("commit failed at %s (completed: %s): %v", e.Stage, done, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
