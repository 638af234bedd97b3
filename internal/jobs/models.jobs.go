// internal/jobs/models.jobs.go
package jobs

import (
	"context"
	"io"
	"time"
)

// Status is the lifecycle state of a training job as pollers see it.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	// StatusNotFound is only ever returned by PollStatus, never stored.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// TrainingJob is one row of the predictions table.
type TrainingJob struct {
	ID          string // internal uuid
	TrainingID  string // trainer-assigned id, the public job id
	UserID      string
	Status      Status
	InputRef    string
	TriggerWord string
	ResultURL   string // durable storage URL, set only on completion
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// Outcome is a terminal transition.
type Outcome struct {
	Status     Status
	ResultURL  string
	Error      string
	FinishedAt time.Time
}

// JobStore persists training jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *TrainingJob) error
	// GetJob returns domainErr.ErrNotFound for unknown ids.
	GetJob(ctx context.Context, trainingID string) (*TrainingJob, error)
	// UpdateProgress moves a non-terminal job to another non-terminal
	// status. Returns false when the job is already terminal.
	UpdateProgress(ctx context.Context, trainingID string, status Status) (bool, error)
	// FinishJob applies a terminal outcome only if the job is not terminal
	// yet. Returns false when another callback got there first.
	FinishJob(ctx context.Context, trainingID string, out Outcome) (bool, error)
}

// Trainer submits training work to the external model provider.
type Trainer interface {
	Submit(ctx context.Context, req TrainingRequest) (trainingID string, err error)
}

type TrainingRequest struct {
	UserID      string
	InputRef    string // URL of the zipped training images
	TriggerWord string
}

// BlobStore durably stores trained artifacts.
type BlobStore interface {
	// Put uploads r under key and returns the URL clients should use.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// CreditLedger is the slice of the credit service used to charge for
// training submissions.
type CreditLedger interface {
	ConsumeCredits(ctx context.Context, userID string, amount int) (int, error)
	AddCredits(ctx context.Context, userID string, delta int) (int, error)
}
