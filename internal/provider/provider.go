// Package provider isolates all network I/O against the external DNS
// provider. The reconciler only sees the Provider contract and the
// transient/permanent failure split; everything about the wire protocol is an
// internal concern of the concrete implementation.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Record is a provider-side DNS record. Name is always fully qualified.
// A zero TTL means provider-automatic.
type Record struct {
	ID       string
	Type     string
	Name     string
	Content  string
	TTL      int
	Priority *int
}

// Zone is the provider's administrative container for a root domain.
type Zone struct {
	ID          string
	Name        string
	Nameservers []string
	Status      string
}

type Provider interface {
	// UpsertRecord creates or updates a record in the zone and returns the
	// provider-assigned record ID. If rec.ID is set, the existing provider
	// record is updated; a record that vanished provider-side is re-created.
	// A record that already exists with identical name+type converges by
	// update rather than failing.
	UpsertRecord(ctx context.Context, zoneID string, rec Record) (string, error)

	// DeleteRecord removes a record from the zone. Deleting a record that is
	// already absent at the provider is a success.
	DeleteRecord(ctx context.Context, zoneID, providerRecordID string) error

	// EnsureZone returns the zone for name, creating it if necessary.
	EnsureZone(ctx context.Context, name string) (*Zone, error)

	// GetZone fetches current zone metadata (nameservers, status).
	GetZone(ctx context.Context, zoneID string) (*Zone, error)

	// ListRecords returns all records currently present in the zone.
	ListRecords(ctx context.Context, zoneID string) ([]Record, error)
}

// Error is a classified provider failure. Transient failures (network,
// timeout, rate-limit, 5xx) are worth retrying as-is; permanent failures
// (validation, conflicting content) will not fix themselves and must reach
// the user.
type Error struct {
	Transient  bool
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

func transientf(format string, args ...any) *Error {
	return &Error{Transient: true, Message: fmt.Sprintf(format, args...)}
}

func permanentf(format string, args ...any) *Error {
	return &Error{Transient: false, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a provider failure worth retrying
// without user intervention. Unclassified errors are treated as transient so
// that an unexpected failure mode never permanently strands a record on the
// first attempt.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// IsPermanent reports whether err is a classified permanent provider failure.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && !pe.Transient
}
