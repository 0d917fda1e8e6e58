package recon

import (
	"fmt"
	"time"
)

// ConflictWarning reports that the authoritative record was modified
// between preview and apply. It is informational: the apply proceeds,
// the caller is expected to re-review afterwards.
type ConflictWarning struct {
	AsOfVersion    int64     `json:"as_of_version"`
	CurrentVersion int64     `json:"current_version"`
	ModifiedAt     time.Time `json:"modified_at"`
	Message        string    `json:"message"`
}

// CheckVersion compares the as-of token captured at preview time with
// the record's state at apply time. Returns nil when nothing changed
// in between, a warning when the record is strictly newer.
func CheckVersion(asOfVersion int64, currentVersion int64, modifiedAt time.Time) *ConflictWarning {
	if currentVersion <= asOfVersion {
		return nil
	}
	return &ConflictWarning{
		AsOfVersion:    asOfVersion,
		CurrentVersion: currentVersion,
		ModifiedAt:     modifiedAt,
		Message: fmt.Sprintf("record modified at %s (version %d, preview was against version %d); re-review recommended",
			modifiedAt.Format(time.RFC3339), currentVersion, asOfVersion),
	}
}
