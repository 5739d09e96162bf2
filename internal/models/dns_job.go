package models

import (
	"time"
)

type JobType string

const (
	JobTypeUpsertRecord  JobType = "UPSERT_RECORD"
	JobTypeDeleteRecord  JobType = "DELETE_RECORD"
	JobTypeRebuildDomain JobType = "REBUILD_DOMAIN"
)

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusSuccess  JobStatus = "success"
	JobStatusFailed   JobStatus = "failed"
	JobStatusRetrying JobStatus = "retrying"
)

// DNSJob is a unit of reconciliation work against the DNS provider.
//
// A job references its target record by ID only; the record may already be
// gone by the time the job runs. The queued->running transition is guarded by
// the Version column so that concurrent workers racing on the same due job
// produce exactly one winner.
type DNSJob struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	JobType  JobType `gorm:"not null;index" json:"job_type"`
	DomainID uint    `gorm:"not null;index" json:"domain_id"`
	RecordID *uint   `gorm:"index" json:"record_id,omitempty"`

	Status    JobStatus  `gorm:"not null;default:'queued';index" json:"status"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	NextRunAt *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	// Stable hash of (job type, target, content fingerprint). Re-enqueuing the
	// same logical change updates the matching queued job instead of inserting
	// a duplicate. The partial unique index is the arbiter when two enqueues
	// of the same change race past the dedupe lookup: only one insert wins.
	IdempotencyKey string `gorm:"not null;index:idx_jobs_pending_key,unique,where:status = 'queued' OR status = 'retrying'" json:"idempotency_key"`

	Version   uint      `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the job is eligible to be picked up at t.
func (j *DNSJob) Due(t time.Time) bool {
	if j.Status != JobStatusQueued && j.Status != JobStatusRetrying {
		return false
	}
	return j.NextRunAt == nil || !j.NextRunAt.After(t)
}
