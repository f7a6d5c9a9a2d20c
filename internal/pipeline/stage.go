package pipeline

import (
	"context"

	"github.com/jackzampolin/scoreshelf/internal/jobs"
)

// Stage is one queued step of the smart upload flow. Each stage owns a job
// type on a queue and a hook that runs when its job will not be retried.
type Stage interface {
	// Identity
	Name() string           // e.g., "first_pass", "second_pass"
	Dependencies() []string // Stages whose output this stage consumes

	// Metadata
	Queue() string
	Description() string

	// Handle executes one job. It must be idempotent.
	Handle(ctx context.Context, job *jobs.Record) error

	// Exhausted records a terminal failure on the session.
	Exhausted(ctx context.Context, job *jobs.Record, cause error)
}

// StageInfo describes a registered stage for status output.
type StageInfo struct {
	Name         string   `json:"name"`
	Queue        string   `json:"queue"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func describe(s Stage) StageInfo {
	return StageInfo{
		Name:         s.Name(),
		Queue:        s.Queue(),
		Description:  s.Description(),
		Dependencies: s.Dependencies(),
	}
}
