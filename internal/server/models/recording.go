package models

import "time"

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptUploaded AttemptStatus = "uploaded"
	AttemptFailed   AttemptStatus = "failed"
)

// RecordingAttempt is the single audio capture bound to a work item.
// A re-capture replaces ArtifactRef and resets Status to pending.
type RecordingAttempt struct {
	ID           string
	WorkItemID   string
	ArtifactRef  string
	BackupPath   string
	BackupError  string
	Status       AttemptStatus
	ErrorMessage string
	SubmitCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UploadedAt   *time.Time
}

// PendingUpload is what the reconciler needs to submit one attempt.
type PendingUpload struct {
	Attempt RecordingAttempt
	Item    WorkItem
}
