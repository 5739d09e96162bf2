package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/models"
	"github.com/doofx0071/doofs-dns/internal/provider"
)

// Reconciler drives provider-side DNS state toward the desired state in the
// record store. It polls the queue for due jobs, executes them against the
// provider adapter and reports outcomes back. Multiple instances may run
// concurrently; the queue's claim CAS keeps each job on a single worker.
type Reconciler struct {
	db       *gorm.DB
	cfg      *config.Config
	queue    *JobQueue
	provider provider.Provider
}

func NewReconciler(db *gorm.DB, cfg *config.Config, queue *JobQueue, p provider.Provider) *Reconciler {
	return &Reconciler{db: db, cfg: cfg, queue: queue, provider: p}
}

// Run starts the worker pool plus the stuck-job sweeper and the finished-job
// pruner, and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error { return r.runWorker(ctx, workerID) })
	}
	g.Go(func() error { return r.runSweeper(ctx) })
	g.Go(func() error { return r.runPruner(ctx) })
	return g.Wait()
}

func (r *Reconciler) runWorker(ctx context.Context, id int) error {
	logger := log.WithField("worker", id)
	logger.Debug("reconciler worker started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("reconciler worker stopping")
			return nil
		case <-ticker.C:
		}

		// Drain all due work before sleeping again.
		for {
			processed, err := r.ProcessOne(ctx)
			if err != nil {
				logger.WithError(err).Error("job processing failed")
				break
			}
			if !processed {
				break
			}
		}
	}
}

func (r *Reconciler) runSweeper(ctx context.Context) error {
	interval := r.cfg.JobExecTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.queue.SweepStuck(ctx); err != nil {
				log.WithError(err).Error("stuck job sweep failed")
			}
		}
	}
}

func (r *Reconciler) runPruner(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.queue.PruneFinished(ctx)
			if err != nil {
				log.WithError(err).Error("job pruning failed")
			} else if n > 0 {
				log.WithField("count", n).Debug("pruned finished jobs")
			}
		}
	}
}

// ProcessOne claims and executes a single due job. It reports whether a job
// was processed.
func (r *Reconciler) ProcessOne(ctx context.Context) (bool, error) {
	job, err := r.queue.ClaimNextDue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	logger := log.WithFields(log.Fields{"job": job.ID, "type": job.JobType, "attempt": job.Attempts + 1})

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.JobExecTimeout)
	out := r.execute(execCtx, job)
	cancel()

	if out.Err != nil {
		logger.WithError(out.Err).Warn("job execution failed")
	} else {
		logger.Debug("job execution succeeded")
	}

	if err := r.queue.ReportOutcome(ctx, job, out); err != nil {
		return true, fmt.Errorf("reporting outcome for job %d: %w", job.ID, err)
	}
	return true, nil
}

func (r *Reconciler) execute(ctx context.Context, job *models.DNSJob) Outcome {
	switch job.JobType {
	case models.JobTypeUpsertRecord:
		return r.executeUpsert(ctx, job)
	case models.JobTypeDeleteRecord:
		return r.executeDelete(ctx, job)
	case models.JobTypeRebuildDomain:
		return r.executeRebuild(ctx, job)
	default:
		return Outcome{Err: fmt.Errorf("unknown job type %q", job.JobType), Permanent: true}
	}
}

func (r *Reconciler) executeUpsert(ctx context.Context, job *models.DNSJob) Outcome {
	if job.RecordID == nil {
		return Outcome{Err: errors.New("upsert job has no record target"), Permanent: true}
	}

	var rec models.DNSRecord
	err := r.db.WithContext(ctx).First(&rec, *job.RecordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Record vanished before the job ran: cancel without effect.
		return Outcome{NoOp: true}
	}
	if err != nil {
		return Outcome{Err: err}
	}
	if rec.Status == models.RecordStatusDeleting {
		// A delete superseded this upsert; let the delete job converge.
		return Outcome{NoOp: true}
	}

	zoneID, out := r.zoneFor(ctx, rec.RootDomain)
	if out != nil {
		return *out
	}

	ttl := 0
	if rec.TTL != nil {
		ttl = *rec.TTL
	}
	providerID, err := r.provider.UpsertRecord(ctx, zoneID, provider.Record{
		ID:       rec.ProviderRecordID,
		Type:     string(rec.Type),
		Name:     rec.FQDN,
		Content:  rec.Content,
		TTL:      ttl,
		Priority: rec.Priority,
	})
	if err != nil {
		return Outcome{Err: err, Permanent: provider.IsPermanent(err)}
	}
	return Outcome{ProviderRecordID: providerID}
}

func (r *Reconciler) executeDelete(ctx context.Context, job *models.DNSJob) Outcome {
	if job.RecordID == nil {
		return Outcome{Err: errors.New("delete job has no record target"), Permanent: true}
	}

	var rec models.DNSRecord
	err := r.db.WithContext(ctx).First(&rec, *job.RecordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Already gone, which is exactly the state a delete wants.
		return Outcome{NoOp: true}
	}
	if err != nil {
		return Outcome{Err: err}
	}

	// A record that never synced has nothing at the provider; the row purge
	// in ReportOutcome is all that is left to do.
	if rec.ProviderRecordID == "" {
		return Outcome{}
	}

	zoneID, out := r.zoneFor(ctx, rec.RootDomain)
	if out != nil {
		return *out
	}

	if err := r.provider.DeleteRecord(ctx, zoneID, rec.ProviderRecordID); err != nil {
		return Outcome{Err: err, Permanent: provider.IsPermanent(err)}
	}
	return Outcome{}
}

// executeRebuild fans the domain's known records out into per-record upsert
// jobs. It re-pushes existing desired state only; it does not diff against or
// delete anything at the provider.
func (r *Reconciler) executeRebuild(ctx context.Context, job *models.DNSJob) Outcome {
	var records []models.DNSRecord
	err := r.db.WithContext(ctx).
		Where("domain_id = ? AND status <> ?", job.DomainID, models.RecordStatusDeleting).
		Find(&records).Error
	if err != nil {
		return Outcome{Err: err}
	}

	for i := range records {
		if _, err := r.queue.EnqueueUpsert(ctx, nil, &records[i]); err != nil {
			return Outcome{Err: fmt.Errorf("fanning out record %d: %w", records[i].ID, err)}
		}
	}

	log.WithFields(log.Fields{"domain": job.DomainID, "records": len(records)}).
		Info("domain rebuild fanned out")
	return Outcome{NoOp: true}
}

// zoneFor resolves the provider zone for a root domain. A missing or
// unbootstrapped platform domain is reported as transient: it heals once the
// operator syncs the zone, and retrying is the right behavior meanwhile.
func (r *Reconciler) zoneFor(ctx context.Context, rootDomain string) (string, *Outcome) {
	var platform models.PlatformDomain
	err := r.db.WithContext(ctx).Where("domain = ?", rootDomain).First(&platform).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", &Outcome{Err: fmt.Errorf("no platform domain for %s", rootDomain)}
	}
	if err != nil {
		return "", &Outcome{Err: err}
	}
	if platform.ZoneID == "" {
		return "", &Outcome{Err: fmt.Errorf("platform domain %s has no provider zone yet", rootDomain)}
	}
	return platform.ZoneID, nil
}
