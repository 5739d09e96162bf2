package models

import (
	"time"
)

// PlatformDomain is a root domain operated by the platform (e.g. doofs.tech)
// that users can claim subdomains on. One PlatformDomain maps to one zone at
// the DNS provider.
type PlatformDomain struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Domain      string `gorm:"not null;uniqueIndex" json:"domain"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// Provider zone metadata, populated once the zone is bootstrapped.
	ZoneID         string   `json:"zone_id,omitempty"`
	Nameservers    []string `gorm:"serializer:json" json:"nameservers,omitempty"`
	ProviderStatus string   `json:"provider_status,omitempty"` // active, pending, moved

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
