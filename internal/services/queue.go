package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/hashstructure/v2"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/models"
)

// pendingJobStatuses are the states in which a job is still waiting to take
// effect and can therefore be superseded by a newer logical change.
var pendingJobStatuses = []models.JobStatus{models.JobStatusQueued, models.JobStatusRetrying}

// JobQueue is the durable queue of reconciliation work. Enqueue deduplicates
// on the idempotency key, ClaimNextDue hands each due job to exactly one
// worker, and ReportOutcome drives the job and its target record through
// their state machines.
type JobQueue struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewJobQueue(db *gorm.DB, cfg *config.Config) *JobQueue {
	return &JobQueue{db: db, cfg: cfg}
}

// jobIdentity is the hashed input of the idempotency key. For upserts the
// fingerprint covers the desired state at enqueue time, so editing a record
// again produces a new key and refreshes the pending job's payload.
type jobIdentity struct {
	JobType     models.JobType
	TargetID    uint
	Fingerprint string
}

func idempotencyKey(jobType models.JobType, targetID uint, fingerprint string) (string, error) {
	h, err := hashstructure.Hash(jobIdentity{
		JobType:     jobType,
		TargetID:    targetID,
		Fingerprint: fingerprint,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing job identity: %w", err)
	}
	return strconv.FormatUint(h, 16), nil
}

func upsertFingerprint(rec *models.DNSRecord) string {
	ttl, prio := 0, 0
	if rec.TTL != nil {
		ttl = *rec.TTL
	}
	if rec.Priority != nil {
		prio = *rec.Priority
	}
	return fmt.Sprintf("%s|%s|%s|%d|%d", rec.Type, rec.Name, rec.Content, ttl, prio)
}

// EnqueueUpsert queues an UPSERT_RECORD job for rec. A still-pending upsert
// job for the same record is refreshed in place instead of duplicated, so a
// user editing a record repeatedly before the first change syncs never grows
// the queue. tx may be nil to run outside an enclosing transaction.
func (q *JobQueue) EnqueueUpsert(ctx context.Context, tx *gorm.DB, rec *models.DNSRecord) (*models.DNSJob, error) {
	if tx == nil {
		tx = q.db.WithContext(ctx)
	}
	key, err := idempotencyKey(models.JobTypeUpsertRecord, rec.ID, upsertFingerprint(rec))
	if err != nil {
		return nil, err
	}
	return q.enqueue(tx, &models.DNSJob{
		JobType:        models.JobTypeUpsertRecord,
		DomainID:       rec.DomainID,
		RecordID:       &rec.ID,
		IdempotencyKey: key,
	})
}

// EnqueueDelete queues a DELETE_RECORD job for rec. Any still-pending upsert
// job for the same record is cancelled first, so the reconciler can never
// apply a stale upsert after the user asked for deletion.
func (q *JobQueue) EnqueueDelete(ctx context.Context, tx *gorm.DB, rec *models.DNSRecord) (*models.DNSJob, error) {
	if tx == nil {
		tx = q.db.WithContext(ctx)
	}
	err := tx.Where("record_id = ? AND job_type = ? AND status IN ?",
		rec.ID, models.JobTypeUpsertRecord, pendingJobStatuses).
		Delete(&models.DNSJob{}).Error
	if err != nil {
		return nil, fmt.Errorf("cancelling pending upsert jobs: %w", err)
	}

	key, err := idempotencyKey(models.JobTypeDeleteRecord, rec.ID, "")
	if err != nil {
		return nil, err
	}
	return q.enqueue(tx, &models.DNSJob{
		JobType:        models.JobTypeDeleteRecord,
		DomainID:       rec.DomainID,
		RecordID:       &rec.ID,
		IdempotencyKey: key,
	})
}

// EnqueueRebuild queues a REBUILD_DOMAIN job that fans out into per-record
// upserts when executed.
func (q *JobQueue) EnqueueRebuild(ctx context.Context, tx *gorm.DB, domainID uint) (*models.DNSJob, error) {
	if tx == nil {
		tx = q.db.WithContext(ctx)
	}
	key, err := idempotencyKey(models.JobTypeRebuildDomain, domainID, "")
	if err != nil {
		return nil, err
	}
	return q.enqueue(tx, &models.DNSJob{
		JobType:        models.JobTypeRebuildDomain,
		DomainID:       domainID,
		IdempotencyKey: key,
	})
}

// enqueue inserts job unless a pending job for the same target already
// exists, in which case that job's payload is refreshed with the new
// idempotency key and its retry state reset. Two enqueues racing past the
// lookup are resolved by the pending-key unique index: the loser retries and
// refreshes the winner's row.
func (q *JobQueue) enqueue(tx *gorm.DB, job *models.DNSJob) (*models.DNSJob, error) {
	query := tx.Where("job_type = ? AND domain_id = ? AND status IN ?",
		job.JobType, job.DomainID, pendingJobStatuses)
	if job.RecordID != nil {
		query = query.Where("record_id = ?", *job.RecordID)
	} else {
		query = query.Where("record_id IS NULL")
	}

	var existing models.DNSJob
	err := query.First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"idempotency_key": job.IdempotencyKey,
			"status":          models.JobStatusQueued,
			"attempts":        0,
			"next_run_at":     nil,
			"last_error":      "",
			"version":         gorm.Expr("version + 1"),
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		if err := tx.First(&existing, existing.ID).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		job.Status = models.JobStatusQueued
		if err := tx.Create(job).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return q.enqueue(tx, job)
			}
			return nil, err
		}
		return job, nil
	default:
		return nil, err
	}
}

// ClaimNextDue selects the oldest due job and atomically transitions it
// queued->running. The transition is a compare-and-set on (id, status,
// version): two workers racing on the same job produce exactly one winner,
// the loser moves on to the next candidate.
func (q *JobQueue) ClaimNextDue(ctx context.Context) (*models.DNSJob, error) {
	now := time.Now()

	var candidates []models.DNSJob
	err := q.db.WithContext(ctx).
		Where("status IN ? AND (next_run_at IS NULL OR next_run_at <= ?)", pendingJobStatuses, now).
		Order("created_at asc").
		Limit(5).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		job := &candidates[i]
		res := q.db.WithContext(ctx).Model(&models.DNSJob{}).
			Where("id = ? AND status = ? AND version = ?", job.ID, job.Status, job.Version).
			Updates(map[string]any{
				"status":  models.JobStatusRunning,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobStatusRunning
			job.Version++
			return job, nil
		}
		// Lost the race on this one, try the next candidate.
	}
	return nil, nil
}

// Outcome is a worker's report on one job execution.
type Outcome struct {
	// Err is nil on success.
	Err error
	// Permanent marks Err as a provider validation failure that retries will
	// not fix (the user must change the record content).
	Permanent bool
	// NoOp marks a success that must not touch the record, e.g. an upsert
	// whose record was deleted before the job ran.
	NoOp bool
	// ProviderRecordID is the provider-assigned ID after a successful upsert.
	ProviderRecordID string
}

// ReportOutcome finishes one execution attempt: on success the job completes
// and the record converges (active for upserts, purged for deletes); on
// failure the job retries with exponential backoff until MaxRetries, then
// fails permanently and surfaces the provider error on the record.
//
// The finishing update is a compare-and-set on (id, running, version), the
// mirror of the claim CAS. A worker that stalled past the execution timeout
// loses its claim to the sweeper; when it finally reports, the version no
// longer matches and the report is discarded, record untouched.
func (q *JobQueue) ReportOutcome(ctx context.Context, job *models.DNSJob, out Outcome) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if out.Err == nil {
			return q.completeSuccess(tx, job, out)
		}
		return q.completeFailure(tx, job, out)
	})
}

func (q *JobQueue) finishCAS(tx *gorm.DB, job *models.DNSJob, updates map[string]any) *gorm.DB {
	return tx.Model(&models.DNSJob{}).
		Where("id = ? AND status = ? AND version = ?", job.ID, models.JobStatusRunning, job.Version).
		Updates(updates)
}

func (q *JobQueue) logStaleReport(job *models.DNSJob) {
	log.WithFields(log.Fields{"job": job.ID, "version": job.Version}).
		Warn("discarding outcome report from superseded worker")
}

func (q *JobQueue) completeSuccess(tx *gorm.DB, job *models.DNSJob, out Outcome) error {
	res := q.finishCAS(tx, job, map[string]any{
		"status":      models.JobStatusSuccess,
		"next_run_at": nil,
		"last_error":  "",
		"version":     gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		q.logStaleReport(job)
		return nil
	}

	if job.RecordID == nil || out.NoOp {
		return nil
	}

	switch job.JobType {
	case models.JobTypeUpsertRecord:
		// A delete may have raced in; never resurrect a deleting record.
		return tx.Model(&models.DNSRecord{}).
			Where("id = ? AND status <> ?", *job.RecordID, models.RecordStatusDeleting).
			Updates(map[string]any{
				"status":             models.RecordStatusActive,
				"provider_record_id": out.ProviderRecordID,
				"last_error":         "",
			}).Error
	case models.JobTypeDeleteRecord:
		// Provider-side delete confirmed, the desired-state row goes away.
		return tx.Delete(&models.DNSRecord{}, *job.RecordID).Error
	}
	return nil
}

func (q *JobQueue) completeFailure(tx *gorm.DB, job *models.DNSJob, out Outcome) error {
	attempts := job.Attempts + 1
	msg := out.Err.Error()
	if out.Permanent {
		msg = "record rejected by provider: " + msg
	}

	if attempts >= q.cfg.MaxRetries {
		res := q.finishCAS(tx, job, map[string]any{
			"status":      models.JobStatusFailed,
			"attempts":    attempts,
			"next_run_at": nil,
			"last_error":  msg,
			"version":     gorm.Expr("version + 1"),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			q.logStaleReport(job)
			return nil
		}
		if job.RecordID != nil {
			return tx.Model(&models.DNSRecord{}).Where("id = ?", *job.RecordID).
				Updates(map[string]any{
					"status":     models.RecordStatusError,
					"last_error": msg,
				}).Error
		}
		return nil
	}

	nextRun := time.Now().Add(q.nextBackoff(attempts))
	res := q.finishCAS(tx, job, map[string]any{
		"status":      models.JobStatusRetrying,
		"attempts":    attempts,
		"next_run_at": nextRun,
		"last_error":  msg,
		"version":     gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		q.logStaleReport(job)
		return nil
	}

	// Surface permanent provider rejections on the record right away, so the
	// user is not left waiting on retries that cannot fix bad content.
	if out.Permanent && job.RecordID != nil {
		return tx.Model(&models.DNSRecord{}).Where("id = ?", *job.RecordID).
			Update("last_error", msg).Error
	}
	return nil
}

// nextBackoff computes the delay before retry number attempts, capped
// exponential growth with jitter.
func (q *JobQueue) nextBackoff(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.RetryBackoffBase
	bo.MaxInterval = q.cfg.RetryBackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0

	d := bo.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// SweepStuck requeues jobs stranded in running longer than the execution
// timeout, typically after a worker crash. The version bump invalidates any
// in-flight CAS the dead worker might still attempt.
func (q *JobQueue) SweepStuck(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.cfg.JobExecTimeout)
	res := q.db.WithContext(ctx).Model(&models.DNSJob{}).
		Where("status = ? AND updated_at < ?", models.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":      models.JobStatusQueued,
			"next_run_at": nil,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.WithField("count", res.RowsAffected).Warn("requeued stuck jobs")
	}
	return res.RowsAffected, nil
}

// PruneFinished removes terminal jobs older than the retention window.
func (q *JobQueue) PruneFinished(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.cfg.JobRetention)
	res := q.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.JobStatus{models.JobStatusSuccess, models.JobStatusFailed}, cutoff).
		Delete(&models.DNSJob{})
	return res.RowsAffected, res.Error
}

// ListJobsForDomain returns the queue state for a domain, newest first, for
// dashboard polling.
func (q *JobQueue) ListJobsForDomain(ctx context.Context, domainID uint) ([]models.DNSJob, error) {
	var jobs []models.DNSJob
	err := q.db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("created_at desc").
		Find(&jobs).Error
	return jobs, err
}
