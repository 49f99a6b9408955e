// Package threshold gates entry processing on upvote scores.
package threshold

import (
	"time"

	"github.com/echofix/echofix/internal/model"
)

// DetermineStatus maps an engagement score to an entry status. A nil score
// means the score is not known yet, so the entry stays pending.
func DetermineStatus(score *int, minScore int) model.EntryStatus {
	if score == nil {
		return model.EntryPending
	}
	if *score >= minScore {
		return model.EntryReady
	}
	return model.EntryPending
}

// ResolveStatus picks the status to persist when re-ingesting an entry that
// already exists. Entries that are ready, claimed, or finished keep their
// status: a stale or missing score on re-ingestion must never reset them
// back to pending.
func ResolveStatus(existing, candidate model.EntryStatus) model.EntryStatus {
	switch existing {
	case model.EntryProcessed, model.EntrySkipped, model.EntryProcessing, model.EntryReady:
		return existing
	}
	return candidate
}

// ShouldRefresh reports whether an entry's score is due for another check.
func ShouldRefresh(lastCheckAt *time.Time, interval time.Duration, now time.Time) bool {
	if lastCheckAt == nil {
		return true
	}
	return now.Sub(*lastCheckAt) >= interval
}

// ShouldProcess reports whether an entry is eligible for claiming. Entries
// already linked to an issue or in a terminal status are never reprocessed.
func ShouldProcess(entry model.Entry) bool {
	if entry.IssueURL != nil && *entry.IssueURL != "" {
		return false
	}
	if entry.Status == model.EntryProcessed || entry.Status == model.EntrySkipped {
		return false
	}
	return entry.Status == model.EntryReady
}
