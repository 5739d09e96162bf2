package services

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/models"
	"github.com/doofx0071/doofs-dns/internal/provider"
)

// PlatformService manages the root domains offered for claiming and their
// provider zone bindings. Operator-facing.
type PlatformService struct {
	db       *gorm.DB
	provider provider.Provider
}

func NewPlatformService(db *gorm.DB, p provider.Provider) *PlatformService {
	return &PlatformService{db: db, provider: p}
}

// CreatePlatformDomain registers a root domain and bootstraps its provider
// zone. Zone creation is best-effort: if the provider call fails the row is
// kept without zone metadata and SyncZone can finish the job later.
func (s *PlatformService) CreatePlatformDomain(ctx context.Context, domain, description string) (*models.PlatformDomain, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, validationf("%q is not a valid root domain", domain)
	}

	pd := &models.PlatformDomain{
		Domain:      domain,
		Description: description,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(pd).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conflictf("platform domain %s already exists", domain)
		}
		return nil, err
	}

	if err := s.syncZone(ctx, pd); err != nil {
		log.WithError(err).WithField("domain", domain).
			Warn("zone bootstrap failed, domain registered without zone")
	}
	return pd, nil
}

// SyncZone refreshes provider zone metadata (zone ID, nameservers, status)
// for a platform domain, creating the zone if it does not exist yet.
func (s *PlatformService) SyncZone(ctx context.Context, id uint) (*models.PlatformDomain, error) {
	var pd models.PlatformDomain
	err := s.db.WithContext(ctx).First(&pd, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.syncZone(ctx, &pd); err != nil {
		return nil, err
	}
	return &pd, nil
}

func (s *PlatformService) syncZone(ctx context.Context, pd *models.PlatformDomain) error {
	var (
		zone *provider.Zone
		err  error
	)
	if pd.ZoneID != "" {
		zone, err = s.provider.GetZone(ctx, pd.ZoneID)
	} else {
		zone, err = s.provider.EnsureZone(ctx, pd.Domain)
	}
	if err != nil {
		return err
	}

	pd.ZoneID = zone.ID
	pd.Nameservers = zone.Nameservers
	pd.ProviderStatus = zone.Status
	return s.db.WithContext(ctx).Save(pd).Error
}

func (s *PlatformService) ListPlatformDomains(ctx context.Context) ([]models.PlatformDomain, error) {
	var domains []models.PlatformDomain
	err := s.db.WithContext(ctx).Order("domain asc").Find(&domains).Error
	return domains, err
}

func (s *PlatformService) GetPlatformDomain(ctx context.Context, id uint) (*models.PlatformDomain, error) {
	var pd models.PlatformDomain
	err := s.db.WithContext(ctx).First(&pd, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pd, nil
}
