package models

import (
	"time"
)

type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeMX    RecordType = "MX"
)

// ValidRecordType reports whether t is one of the supported record types.
func ValidRecordType(t RecordType) bool {
	switch t {
	case RecordTypeA, RecordTypeAAAA, RecordTypeCNAME, RecordTypeTXT, RecordTypeMX:
		return true
	}
	return false
}

type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "pending"
	RecordStatusActive   RecordStatus = "active"
	RecordStatusError    RecordStatus = "error"
	RecordStatusDeleting RecordStatus = "deleting"
)

const ProviderCloudflare = "cloudflare"

// DNSRecord is the desired state of a single record on a claimed domain.
// At most one record may exist per (domain, type, name); the provider rejects
// duplicate type+name pairs within a zone, so the slot is enforced here first.
// The record becomes active only after the reconciler confirms the provider
// accepted it, and is purged only after a provider-side delete confirms.
type DNSRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	DomainID uint   `gorm:"not null;uniqueIndex:idx_records_domain_type_name,priority:1;index" json:"domain_id"`
	Domain   Domain `json:"-"`

	// Denormalized from the owning domain for fast lookup and provider calls.
	OwnerEmail string `gorm:"index" json:"owner_email,omitempty"`
	RootDomain string `json:"root_domain"`
	Subdomain  string `json:"subdomain"`

	Type RecordType `gorm:"not null;uniqueIndex:idx_records_domain_type_name,priority:2" json:"type"`
	Name string     `gorm:"not null;uniqueIndex:idx_records_domain_type_name,priority:3" json:"name"` // "@" or relative label
	FQDN string     `gorm:"not null;index" json:"fqdn"`

	Content  string `gorm:"not null" json:"content"`
	Priority *int   `json:"priority,omitempty"` // MX only
	TTL      *int   `json:"ttl,omitempty"`      // nil means provider-automatic

	Provider         string       `gorm:"not null;default:'cloudflare'" json:"provider"`
	ProviderRecordID string       `json:"provider_record_id,omitempty"` // empty until first successful sync
	Status           RecordStatus `gorm:"not null;default:'pending';index" json:"status"`
	LastError        string       `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
