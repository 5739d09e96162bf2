package models

import (
	"fmt"
	"time"
)

type DomainStatus string

const (
	DomainStatusActive   DomainStatus = "active"
	DomainStatusInactive DomainStatus = "inactive"
)

// Domain is a subdomain claimed by a user on a platform root domain.
// The (root_domain, subdomain) pair is globally unique. A domain is never
// hard-deleted while DNS records still reference it; release marks it
// inactive and cascade-invalidates its records first.
type Domain struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	Subdomain  string       `gorm:"not null;uniqueIndex:idx_domains_root_sub,priority:2" json:"subdomain"`
	RootDomain string       `gorm:"not null;uniqueIndex:idx_domains_root_sub,priority:1" json:"root_domain"`
	OwnerEmail string       `gorm:"index" json:"owner_email,omitempty"`
	Status     DomainStatus `gorm:"not null;default:'active';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FQDN returns the full name the claimed domain resolves under.
func (d *Domain) FQDN() string {
	return fmt.Sprintf("%s.%s", d.Subdomain, d.RootDomain)
}
