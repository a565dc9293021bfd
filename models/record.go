package models

import "time"

type RecordStatus string

const (
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordError      RecordStatus = "error"
)

// TranscriptNotesRecord is the persisted transcript and notes for one media id.
type TranscriptNotesRecord struct {
	ID           int64
	MediaID      string
	SourceLink   string
	Transcript   string
	Notes        string
	Contributors []string
	Status       RecordStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasContributor reports whether requesterID already contributed to the record.
func (r *TranscriptNotesRecord) HasContributor(requesterID string) bool {
	for _, c := range r.Contributors {
		if c == requesterID {
			return true
		}
	}
	return false
}

// Requester is the slice of user and billing state the pipeline reads.
type Requester struct {
	ID             string
	IsPremium      bool
	NotesGenerated int
	FreeTrials     int
}

// CanGenerate reports whether the requester still has quota for a new note,
// given the number of trial notes granted to every account.
func (r *Requester) CanGenerate(maxTrials int) bool {
	if r.IsPremium {
		return true
	}
	return r.NotesGenerated < maxTrials+r.FreeTrials
}
