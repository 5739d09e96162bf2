package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCF(t *testing.T, w http.ResponseWriter, status int, success bool, result any, errs ...cfError) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": success, "errors": errs, "result": result}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func newCF(handler http.Handler) (*Cloudflare, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewCloudflare(srv.URL, "test-token", "acct-1"), srv
}

func TestUpsertRecordCreates(t *testing.T) {
	var sawAuth string
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/zones/z1/dns_records":
			writeCF(t, w, 200, true, []cfRecord{})
		case r.Method == http.MethodPost && r.URL.Path == "/zones/z1/dns_records":
			var body cfRecordBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "A", body.Type)
			assert.Equal(t, "www.myapp.doofs.tech", body.Name)
			// TTL 0 is sent as 1 (automatic).
			assert.Equal(t, 1, body.TTL)
			writeCF(t, w, 200, true, cfRecord{ID: "rec-1", Type: body.Type, Name: body.Name, Content: body.Content})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	id, err := cf.UpsertRecord(context.Background(), "z1", Record{
		Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
	assert.Equal(t, "Bearer test-token", sawAuth)
}

func TestUpsertRecordUpdatesKnownID(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/zones/z1/dns_records/rec-1", r.URL.Path)
		writeCF(t, w, 200, true, cfRecord{ID: "rec-1"})
	}))
	defer srv.Close()

	id, err := cf.UpsertRecord(context.Background(), "z1", Record{
		ID: "rec-1", Type: "A", Name: "www.myapp.doofs.tech", Content: "5.6.7.8",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
}

func TestUpsertRecordRecreatesVanishedRecord(t *testing.T) {
	var putSeen, listSeen, postSeen bool
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			putSeen = true
			writeCF(t, w, 404, false, nil, cfError{Code: 81044, Message: "Record does not exist."})
		case r.Method == http.MethodGet:
			listSeen = true
			writeCF(t, w, 200, true, []cfRecord{})
		case r.Method == http.MethodPost:
			postSeen = true
			writeCF(t, w, 200, true, cfRecord{ID: "rec-2"})
		}
	}))
	defer srv.Close()

	id, err := cf.UpsertRecord(context.Background(), "z1", Record{
		ID: "rec-1", Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-2", id)
	assert.True(t, putSeen)
	assert.True(t, listSeen)
	assert.True(t, postSeen)
}

func TestUpsertRecordConvergesOnExistingSlot(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeCF(t, w, 200, true, []cfRecord{
				{ID: "rec-9", Type: "A", Name: "www.myapp.doofs.tech", Content: "9.9.9.9"},
			})
		case http.MethodPut:
			require.Equal(t, "/zones/z1/dns_records/rec-9", r.URL.Path)
			writeCF(t, w, 200, true, cfRecord{ID: "rec-9"})
		default:
			t.Errorf("unexpected %s request, duplicate create attempted", r.Method)
		}
	}))
	defer srv.Close()

	id, err := cf.UpsertRecord(context.Background(), "z1", Record{
		Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-9", id)
}

func TestUpsertRecordRejectionIsPermanent(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeCF(t, w, 200, true, []cfRecord{})
			return
		}
		writeCF(t, w, 400, false, nil, cfError{Code: 9004, Message: "Content for A record is invalid."})
	}))
	defer srv.Close()

	_, err := cf.UpsertRecord(context.Background(), "z1", Record{
		Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "Content for A record is invalid")
}

func TestUpsertRecordServerErrorIsTransient(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := cf.UpsertRecord(context.Background(), "z1", Record{
		ID: "rec-1", Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestUpsertRecordRateLimitIsTransient(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := cf.UpsertRecord(context.Background(), "z1", Record{
		ID: "rec-1", Type: "A", Name: "www.myapp.doofs.tech", Content: "1.2.3.4",
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestDeleteRecord(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/zones/z1/dns_records/rec-1", r.URL.Path)
		writeCF(t, w, 200, true, map[string]string{"id": "rec-1"})
	}))
	defer srv.Close()

	require.NoError(t, cf.DeleteRecord(context.Background(), "z1", "rec-1"))
}

func TestDeleteRecordAlreadyGone(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCF(t, w, 404, false, nil, cfError{Code: 1001, Message: "Invalid dns record identifier"})
	}))
	defer srv.Close()

	// Absent at the provider is the state a delete wants.
	assert.NoError(t, cf.DeleteRecord(context.Background(), "z1", "rec-1"))
}

func TestDeleteRecordOtherFailure(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCF(t, w, 403, false, nil, cfError{Code: 9109, Message: "Unauthorized to access requested resource"})
	}))
	defer srv.Close()

	err := cf.DeleteRecord(context.Background(), "z1", "rec-1")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestEnsureZoneFindsExisting(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/zones", r.URL.Path)
		require.Equal(t, "doofs.tech", r.URL.Query().Get("name"))
		writeCF(t, w, 200, true, []cfZone{
			{ID: "z1", Name: "doofs.tech", Status: "active", Nameservers: []string{"a.ns", "b.ns"}},
		})
	}))
	defer srv.Close()

	zone, err := cf.EnsureZone(context.Background(), "doofs.tech")
	require.NoError(t, err)
	assert.Equal(t, "z1", zone.ID)
	assert.Equal(t, "active", zone.Status)
	assert.Equal(t, []string{"a.ns", "b.ns"}, zone.Nameservers)
}

func TestEnsureZoneCreates(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeCF(t, w, 200, true, []cfZone{})
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "doofs.tech", body["name"])
			assert.Equal(t, map[string]any{"id": "acct-1"}, body["account"])
			writeCF(t, w, 200, true, cfZone{ID: "z-new", Name: "doofs.tech", Status: "pending"})
		}
	}))
	defer srv.Close()

	zone, err := cf.EnsureZone(context.Background(), "doofs.tech")
	require.NoError(t, err)
	assert.Equal(t, "z-new", zone.ID)
	assert.Equal(t, "pending", zone.Status)
}

func TestEnsureZoneWithoutAccountID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCF(t, w, 200, true, []cfZone{})
	}))
	defer srv.Close()
	cf := NewCloudflare(srv.URL, "test-token", "")

	_, err := cf.EnsureZone(context.Background(), "doofs.tech")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestGetZone(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/zones/z1", r.URL.Path)
		writeCF(t, w, 200, true, cfZone{ID: "z1", Name: "doofs.tech", Status: "active"})
	}))
	defer srv.Close()

	zone, err := cf.GetZone(context.Background(), "z1")
	require.NoError(t, err)
	assert.Equal(t, "doofs.tech", zone.Name)
}

func TestListRecordsPaginates(t *testing.T) {
	cf, srv := newCF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		recs := []cfRecord{{ID: "rec-" + page, Type: "A", Name: fmt.Sprintf("p%s.doofs.tech", page)}}
		body := map[string]any{
			"success":     true,
			"errors":      []cfError{},
			"result":      recs,
			"result_info": cfResultInfo{Page: atoi(page), TotalPages: 2},
		}
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	defer srv.Close()

	records, err := cf.ListRecords(context.Background(), "z1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, "rec-2", records[1].ID)
}

func TestConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections
	cf := NewCloudflare(srv.URL, "test-token", "acct-1")

	_, err := cf.GetZone(context.Background(), "z1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func atoi(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
