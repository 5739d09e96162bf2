package services

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/models"
	"github.com/doofx0071/doofs-dns/internal/validate"
)

// RecordService is the write path of the record store: it validates desired
// state, enforces the per-domain cap and the (domain, type, name) slot
// uniqueness, and enqueues the reconciliation work.
type RecordService struct {
	db    *gorm.DB
	cfg   *config.Config
	queue *JobQueue
}

func NewRecordService(db *gorm.DB, cfg *config.Config, queue *JobQueue) *RecordService {
	return &RecordService{db: db, cfg: cfg, queue: queue}
}

// RecordInput is a user-supplied desired record.
type RecordInput struct {
	Type     models.RecordType `json:"type"`
	Name     string            `json:"name"`
	Content  string            `json:"content"`
	TTL      *int              `json:"ttl,omitempty"`
	Priority *int              `json:"priority,omitempty"`
}

// UpsertRecord creates the record in pending state, or updates an existing
// (domain, type, name) slot in place, and queues an UPSERT_RECORD job. The
// record only turns active once the reconciler confirms the provider took it.
func (s *RecordService) UpsertRecord(ctx context.Context, domainID uint, in RecordInput) (*models.DNSRecord, error) {
	var domain models.Domain
	err := s.db.WithContext(ctx).First(&domain, domainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if domain.Status != models.DomainStatusActive {
		return nil, conflictf("domain %s is inactive", domain.FQDN())
	}

	if !models.ValidRecordType(in.Type) {
		return nil, validationf("unsupported record type %q", in.Type)
	}
	name, err := validate.DNSName(in.Name)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	content, err := validate.RecordContent(in.Type, in.Content)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	// The validated name is "@" or a relative label, so the result always
	// stays under the claimed domain's apex.
	fqdn := validate.ComputeFQDN(name, domain.Subdomain, domain.RootDomain)

	priority := in.Priority
	if in.Type == models.RecordTypeMX && priority == nil {
		def := 10
		priority = &def
	}

	var rec *models.DNSRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DNSRecord
		err := tx.Where("domain_id = ? AND type = ? AND name = ?", domainID, in.Type, name).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Status == models.RecordStatusDeleting {
				return conflictf("a record at this name is still being deleted, try again shortly")
			}
			updates := map[string]any{
				"content":    content,
				"ttl":        in.TTL,
				"priority":   priority,
				"fqdn":       fqdn,
				"status":     models.RecordStatusPending,
				"last_error": "",
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.First(&existing, existing.ID).Error; err != nil {
				return err
			}
			rec = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := s.checkNameSlot(tx, domainID, in.Type, name); err != nil {
				return err
			}
			if err := s.checkRecordLimit(tx, domainID); err != nil {
				return err
			}
			rec = &models.DNSRecord{
				DomainID:   domainID,
				OwnerEmail: domain.OwnerEmail,
				RootDomain: domain.RootDomain,
				Subdomain:  domain.Subdomain,
				Type:       in.Type,
				Name:       name,
				FQDN:       fqdn,
				Content:    content,
				TTL:        in.TTL,
				Priority:   priority,
				Provider:   models.ProviderCloudflare,
				Status:     models.RecordStatusPending,
			}
			if err := tx.Create(rec).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return conflictf("a %s record named %q already exists on this domain", in.Type, name)
				}
				return err
			}
		default:
			return err
		}

		_, err = s.queue.EnqueueUpsert(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"fqdn": rec.FQDN, "type": rec.Type}).Debug("record upsert queued")
	return rec, nil
}

// checkNameSlot applies the provider's CNAME exclusivity rule: a CNAME cannot
// coexist with any other record at the same name, in either direction. Treated
// as the same duplicate-slot conflict as the uniqueness index.
func (s *RecordService) checkNameSlot(tx *gorm.DB, domainID uint, t models.RecordType, name string) error {
	var count int64
	query := tx.Model(&models.DNSRecord{}).Where("domain_id = ? AND name = ?", domainID, name)
	if t == models.RecordTypeCNAME {
		// any record blocks a new CNAME
	} else {
		query = query.Where("type = ?", models.RecordTypeCNAME)
	}
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		if t == models.RecordTypeCNAME {
			return conflictf("a CNAME cannot coexist with other records at %q", name)
		}
		return conflictf("a CNAME already exists at %q", name)
	}
	return nil
}

func (s *RecordService) checkRecordLimit(tx *gorm.DB, domainID uint) error {
	if s.cfg.MaxRecordsPerDomain <= 0 {
		return nil
	}
	var count int64
	err := tx.Model(&models.DNSRecord{}).Where("domain_id = ?", domainID).Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(s.cfg.MaxRecordsPerDomain) {
		return conflictf("limit of %d records per domain reached", s.cfg.MaxRecordsPerDomain)
	}
	return nil
}

// DeleteRecord marks the record deleting and queues a DELETE_RECORD job. The
// row is only removed once the provider-side delete confirms.
func (s *RecordService) DeleteRecord(ctx context.Context, recordID uint) error {
	var rec models.DNSRecord
	err := s.db.WithContext(ctx).First(&rec, recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&rec).Update("status", models.RecordStatusDeleting).Error
		if err != nil {
			return err
		}
		_, err = s.queue.EnqueueDelete(ctx, tx, &rec)
		return err
	})
}

// RebuildDomain queues a REBUILD_DOMAIN job that re-pushes every known record
// of the domain to the provider, e.g. after a zone re-creation.
func (s *RecordService) RebuildDomain(ctx context.Context, domainID uint) (*models.DNSJob, error) {
	var domain models.Domain
	err := s.db.WithContext(ctx).First(&domain, domainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if domain.Status != models.DomainStatusActive {
		return nil, conflictf("domain %s is inactive", domain.FQDN())
	}
	return s.queue.EnqueueRebuild(ctx, nil, domainID)
}

func (s *RecordService) GetRecord(ctx context.Context, recordID uint) (*models.DNSRecord, error) {
	var rec models.DNSRecord
	err := s.db.WithContext(ctx).First(&rec, recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns the current desired state plus sync status for a
// domain, for dashboard display.
func (s *RecordService) ListRecords(ctx context.Context, domainID uint) ([]models.DNSRecord, error) {
	var records []models.DNSRecord
	err := s.db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("fqdn asc, type asc").
		Find(&records).Error
	return records, err
}
