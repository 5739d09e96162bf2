package services

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/models"
	"github.com/doofx0071/doofs-dns/internal/validate"
)

// ClaimService enforces subdomain naming rules and uniqueness at claim time
// and owns the domain lifecycle (claim, release).
type ClaimService struct {
	db       *gorm.DB
	cfg      *config.Config
	queue    *JobQueue
	notifier Notifier
}

func NewClaimService(db *gorm.DB, cfg *config.Config, queue *JobQueue, notifier Notifier) *ClaimService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &ClaimService{db: db, cfg: cfg, queue: queue, notifier: notifier}
}

// Claim validates and atomically inserts a new domain. The availability check
// and the insert run inside one transaction, backed by the unique index on
// (root_domain, subdomain), so two concurrent claims of the same name yield
// exactly one winner. ownerEmail may be empty for anonymous claims.
func (s *ClaimService) Claim(ctx context.Context, subdomain, rootDomain, ownerEmail string) (*models.Domain, error) {
	if rootDomain == "" {
		rootDomain = s.cfg.DefaultRootDomain
	}
	rootDomain = strings.ToLower(strings.TrimSpace(rootDomain))

	label, err := validate.SubdomainLabel(subdomain)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	domain := &models.Domain{
		Subdomain:  label,
		RootDomain: rootDomain,
		OwnerEmail: strings.ToLower(strings.TrimSpace(ownerEmail)),
		Status:     models.DomainStatusActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var platform models.PlatformDomain
		err := tx.Where("domain = ?", rootDomain).First(&platform).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationf("root domain %s is not offered by this platform", rootDomain)
		}
		if err != nil {
			return err
		}
		if !platform.IsActive {
			return conflictf("root domain %s is closed for new claims", rootDomain)
		}

		if domain.OwnerEmail != "" && s.cfg.MaxDomainsPerOwner > 0 {
			var count int64
			err := tx.Model(&models.Domain{}).
				Where("owner_email = ? AND status = ?", domain.OwnerEmail, models.DomainStatusActive).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count >= int64(s.cfg.MaxDomainsPerOwner) {
				return conflictf("limit of %d subdomains per owner reached", s.cfg.MaxDomainsPerOwner)
			}
		}

		var existing models.Domain
		err = tx.Where("root_domain = ? AND subdomain = ?", rootDomain, label).First(&existing).Error
		if err == nil {
			return conflictf("%s.%s is already taken", label, rootDomain)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(domain).Error; err != nil {
			// Lost a race against a concurrent claim of the same name: the
			// unique index is the final arbiter.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return conflictf("%s.%s is already taken", label, rootDomain)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fire and forget; a notification failure never affects the claim.
	go s.notifier.DomainClaimed(context.WithoutCancel(ctx), domain)

	return domain, nil
}

// Availability is the public availability probe for the claim UI.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (s *ClaimService) CheckAvailability(ctx context.Context, subdomain, rootDomain string) (*Availability, error) {
	if rootDomain == "" {
		rootDomain = s.cfg.DefaultRootDomain
	}
	rootDomain = strings.ToLower(strings.TrimSpace(rootDomain))

	label, err := validate.SubdomainLabel(subdomain)
	if err != nil {
		return &Availability{Available: false, Reason: err.Error()}, nil
	}

	var platform models.PlatformDomain
	err = s.db.WithContext(ctx).Where("domain = ?", rootDomain).First(&platform).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !platform.IsActive) {
		return &Availability{Available: false, Reason: "root domain unavailable"}, nil
	}
	if err != nil {
		return nil, err
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&models.Domain{}).
		Where("root_domain = ? AND subdomain = ?", rootDomain, label).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return &Availability{Available: false, Reason: "already taken"}, nil
	}
	return &Availability{Available: true}, nil
}

// Release marks a domain inactive and cascade-invalidates its records: each
// one flips to deleting and gets a DELETE_RECORD job, which also supersedes
// any stale queued upserts for the record. The domain row itself is kept;
// records are purged one by one as their provider deletes confirm.
func (s *ClaimService) Release(ctx context.Context, domainID uint) error {
	var domain models.Domain
	err := s.db.WithContext(ctx).First(&domain, domainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Domain{}).Where("id = ?", domainID).
			Update("status", models.DomainStatusInactive).Error
		if err != nil {
			return err
		}

		var records []models.DNSRecord
		if err := tx.Where("domain_id = ?", domainID).Find(&records).Error; err != nil {
			return err
		}

		var result *multierror.Error
		for i := range records {
			rec := &records[i]
			if rec.Status == models.RecordStatusDeleting {
				continue
			}
			err := tx.Model(rec).Update("status", models.RecordStatusDeleting).Error
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if _, err := s.queue.EnqueueDelete(ctx, tx, rec); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
	if err != nil {
		return err
	}

	go s.notifier.DomainReleased(context.WithoutCancel(ctx), &domain)

	log.WithFields(log.Fields{"domain": domain.FQDN()}).Info("domain released, records queued for deletion")
	return nil
}

func (s *ClaimService) GetDomain(ctx context.Context, id uint) (*models.Domain, error) {
	var domain models.Domain
	err := s.db.WithContext(ctx).First(&domain, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain, nil
}

// ListDomains returns claimed domains, optionally filtered by owner email.
func (s *ClaimService) ListDomains(ctx context.Context, ownerEmail string) ([]models.Domain, error) {
	query := s.db.WithContext(ctx).Order("created_at desc")
	if ownerEmail != "" {
		query = query.Where("owner_email = ?", strings.ToLower(ownerEmail))
	}
	var domains []models.Domain
	err := query.Find(&domains).Error
	return domains, err
}
