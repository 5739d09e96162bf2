package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doofx0071/doofs-dns/internal/config"
	"github.com/doofx0071/doofs-dns/internal/database"
	"github.com/doofx0071/doofs-dns/internal/models"
	"github.com/doofx0071/doofs-dns/internal/provider"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open("sqlite", dsn)
	require.NoError(t, err)
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultRootDomain:   "doofs.tech",
		MaxDomainsPerOwner:  5,
		MaxRecordsPerDomain: 10,
		WorkerCount:         1,
		PollInterval:        10 * time.Millisecond,
		MaxRetries:          3,
		RetryBackoffBase:    time.Second,
		RetryBackoffMax:     time.Minute,
		JobExecTimeout:      time.Minute,
		JobRetention:        time.Hour,
	}
}

func seedPlatformDomain(t *testing.T, db *gorm.DB, domain, zoneID string) *models.PlatformDomain {
	t.Helper()
	pd := &models.PlatformDomain{
		Domain:         domain,
		IsActive:       true,
		ZoneID:         zoneID,
		ProviderStatus: "active",
	}
	require.NoError(t, db.Create(pd).Error)
	return pd
}

func seedDomain(t *testing.T, db *gorm.DB, subdomain, rootDomain string) *models.Domain {
	t.Helper()
	d := &models.Domain{
		Subdomain:  subdomain,
		RootDomain: rootDomain,
		Status:     models.DomainStatusActive,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

func intPtr(n int) *int { return &n }

// fakeProvider is an in-memory Provider used by reconciler tests. Calls can
// be forced to fail with a configured error.
type fakeProvider struct {
	mu      sync.Mutex
	nextID  int
	records map[string]provider.Record

	upsertErr error
	deleteErr error
	upserts   int
	deletes   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: make(map[string]provider.Record)}
}

func (f *fakeProvider) UpsertRecord(_ context.Context, _ string, rec provider.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	id := rec.ID
	if id == "" {
		// Converge on an existing name+type slot if one is present.
		for existingID, existing := range f.records {
			if existing.Name == rec.Name && existing.Type == rec.Type {
				id = existingID
				break
			}
		}
	}
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("cf-%d", f.nextID)
	}
	rec.ID = id
	f.records[id] = rec
	return id, nil
}

func (f *fakeProvider) DeleteRecord(_ context.Context, _ string, providerRecordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	// Deleting an absent record is convergence, not an error.
	delete(f.records, providerRecordID)
	return nil
}

func (f *fakeProvider) EnsureZone(_ context.Context, name string) (*provider.Zone, error) {
	return &provider.Zone{ID: "zone-" + name, Name: name, Status: "active",
		Nameservers: []string{"ns1.example.net", "ns2.example.net"}}, nil
}

func (f *fakeProvider) GetZone(_ context.Context, zoneID string) (*provider.Zone, error) {
	return &provider.Zone{ID: zoneID, Status: "active",
		Nameservers: []string{"ns1.example.net", "ns2.example.net"}}, nil
}

func (f *fakeProvider) ListRecords(_ context.Context, _ string) ([]provider.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeProvider) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
