package models

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobReady      JobStatus = "READY"
	JobFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// CanTransitionTo encodes PENDING -> PROCESSING -> (READY | FAILED).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobReady || next == JobFailed
	}
	return false
}

// ArchiveJob tracks one asynchronous folder archive request. ResultRef is
// set only when READY and ErrorMessage only when FAILED.
type ArchiveJob struct {
	ID           string    `bson:"_id" json:"id"`
	NodeID       string    `bson:"node_id" json:"node_id"`
	RequesterID  string    `bson:"requester_id" json:"requester_id"`
	Status       JobStatus `bson:"status" json:"status"`
	ResultRef    string    `bson:"result_ref,omitempty" json:"-"`
	ErrorMessage string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
