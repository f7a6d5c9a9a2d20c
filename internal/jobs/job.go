// Package jobs is the durable job queue shared by the serving and worker
// processes. Jobs live in the jobs table; workers claim them with a lease and
// the reaper returns expired leases to the queue.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether no worker will pick the job up again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeadLettered
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDeadLettered:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Record is a job row.
type Record struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"backoff"`
	RunAt        time.Time       `json:"runAt"`
	LockedBy     string          `json:"lockedBy,omitempty"`
	LockedUntil  *time.Time      `json:"lockedUntil,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	OriginQueue  string          `json:"originQueue,omitempty"`
	OriginJobID  string          `json:"originJobId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the payload into v.
func (r *Record) Decode(v any) error {
	if len(r.Payload) == 0 {
		return Permanent(fmt.Errorf("job %s has no payload", r.ID))
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode job %s payload: %w", r.ID, err))
	}
	return nil
}

// FinalAttempt reports whether a failure now would exhaust the job.
func (r *Record) FinalAttempt() bool {
	return r.AttemptsMade >= r.MaxAttempts
}

// Options tune a single Enqueue. Zero values take the queue defaults.
type Options struct {
	// ID lets the caller pick the job id ahead of the write.
	ID          string
	MaxAttempts int
	Backoff     *Backoff
	Delay       time.Duration
}

// QueueStats counts a queue's jobs by state. Delayed jobs are waiting jobs
// whose run_at is in the future and are not counted as Waiting.
type QueueStats struct {
	Queue        string `json:"queue"`
	Waiting      int    `json:"waiting"`
	Active       int    `json:"active"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	Delayed      int    `json:"delayed"`
	DeadLettered int    `json:"deadLettered"`
}
