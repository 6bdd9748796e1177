package cron

import (
	"context"
	"time"
)

// Job is one storefront maintenance task run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry is a scheduled job. A zero Every runs the job on every tick.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry holds the scheduled jobs in registration order.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Schedule registers job to run at most once per every across all workers.
// Nil jobs are skipped so optional jobs can be scheduled unconditionally.
func (r *Registry) Schedule(job Job, every time.Duration) *Registry {
	if job == nil {
		return r
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
	return r
}

// Entries returns a copy of the schedule.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}
