package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// Cloudflare error codes returned when a record or zone does not exist.
// 81044: record not found, 1001: invalid/unknown identifier.
var cfNotFoundCodes = map[int]bool{81044: true, 1001: true}

// Cloudflare talks to the Cloudflare v4 REST API. It holds no state beyond
// per-call configuration and can be swapped for another Provider
// implementation behind the same contract.
type Cloudflare struct {
	baseURL   string
	token     string
	accountID string
	client    *http.Client
}

func NewCloudflare(baseURL, token, accountID string) *Cloudflare {
	if baseURL == "" {
		baseURL = DefaultCloudflareBaseURL
	}
	return &Cloudflare{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		accountID: accountID,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfResultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type cfEnvelope struct {
	Success    bool            `json:"success"`
	Errors     []cfError       `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *cfResultInfo   `json:"result_info"`

	statusCode int `json:"-"`
}

type cfRecord struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
}

type cfZone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Nameservers []string `json:"name_servers"`
}

type cfRecordBody struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
}

func (c *Cloudflare) UpsertRecord(ctx context.Context, zoneID string, rec Record) (string, error) {
	body := cfRecordBody{
		Type:     rec.Type,
		Name:     rec.Name,
		Content:  rec.Content,
		TTL:      rec.TTL,
		Priority: rec.Priority,
	}
	if body.TTL == 0 {
		body.TTL = 1 // 1 = automatic
	}

	// Update the known provider record first, if we have one.
	if rec.ID != "" {
		env, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, rec.ID), body)
		if err != nil {
			return "", err
		}
		if env.Success {
			var updated cfRecord
			if err := json.Unmarshal(env.Result, &updated); err != nil {
				return "", transientf("cloudflare update: malformed response: %v", err)
			}
			return updated.ID, nil
		}
		// The record may have been deleted externally; fall through to the
		// create path in that case, fail otherwise.
		if !hasNotFound(env.Errors) {
			return "", c.classify("update record", env)
		}
		log.WithFields(log.Fields{"zone": zoneID, "record": rec.ID}).
			Debug("provider record vanished, re-creating")
	}

	// An identical name+type slot may already exist at the provider (e.g. a
	// retried job whose previous attempt partially succeeded). Converge by
	// updating it instead of creating a duplicate.
	existing, err := c.findRecord(ctx, zoneID, rec.Type, rec.Name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		env, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, existing.ID), body)
		if err != nil {
			return "", err
		}
		if !env.Success {
			return "", c.classify("update existing record", env)
		}
		var updated cfRecord
		if err := json.Unmarshal(env.Result, &updated); err != nil {
			return "", transientf("cloudflare update: malformed response: %v", err)
		}
		return updated.ID, nil
	}

	env, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), body)
	if err != nil {
		return "", err
	}
	if !env.Success {
		return "", c.classify("create record", env)
	}
	var created cfRecord
	if err := json.Unmarshal(env.Result, &created); err != nil {
		return "", transientf("cloudflare create: malformed response: %v", err)
	}
	return created.ID, nil
}

func (c *Cloudflare) DeleteRecord(ctx context.Context, zoneID, providerRecordID string) error {
	env, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, providerRecordID), nil)
	if err != nil {
		return err
	}
	if !env.Success {
		// Already deleted means converged.
		if hasNotFound(env.Errors) {
			return nil
		}
		return c.classify("delete record", env)
	}
	return nil
}

func (c *Cloudflare) EnsureZone(ctx context.Context, name string) (*Zone, error) {
	env, err := c.do(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, c.classify("list zones", env)
	}
	var zones []cfZone
	if err := json.Unmarshal(env.Result, &zones); err != nil {
		return nil, transientf("cloudflare list zones: malformed response: %v", err)
	}
	if len(zones) > 0 {
		return toZone(&zones[0]), nil
	}

	if c.accountID == "" {
		return nil, permanentf("cloudflare account ID is not configured, cannot create zone %s", name)
	}
	createBody := map[string]any{
		"name":    name,
		"account": map[string]string{"id": c.accountID},
		"type":    "full",
	}
	env, err = c.do(ctx, http.MethodPost, "/zones", createBody)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, c.classify("create zone", env)
	}
	var zone cfZone
	if err := json.Unmarshal(env.Result, &zone); err != nil {
		return nil, transientf("cloudflare create zone: malformed response: %v", err)
	}
	return toZone(&zone), nil
}

func (c *Cloudflare) GetZone(ctx context.Context, zoneID string) (*Zone, error) {
	env, err := c.do(ctx, http.MethodGet, "/zones/"+zoneID, nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, c.classify("get zone", env)
	}
	var zone cfZone
	if err := json.Unmarshal(env.Result, &zone); err != nil {
		return nil, transientf("cloudflare get zone: malformed response: %v", err)
	}
	return toZone(&zone), nil
}

func (c *Cloudflare) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	var all []Record
	for page := 1; ; page++ {
		env, err := c.do(ctx, http.MethodGet,
			fmt.Sprintf("/zones/%s/dns_records?page=%d&per_page=100", zoneID, page), nil)
		if err != nil {
			return nil, err
		}
		if !env.Success {
			return nil, c.classify("list records", env)
		}
		var recs []cfRecord
		if err := json.Unmarshal(env.Result, &recs); err != nil {
			return nil, transientf("cloudflare list records: malformed response: %v", err)
		}
		for _, r := range recs {
			all = append(all, Record{
				ID: r.ID, Type: r.Type, Name: r.Name,
				Content: r.Content, TTL: r.TTL, Priority: r.Priority,
			})
		}
		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			break
		}
	}
	return all, nil
}

func (c *Cloudflare) findRecord(ctx context.Context, zoneID, recType, name string) (*cfRecord, error) {
	env, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/zones/%s/dns_records?name=%s&type=%s", zoneID, url.QueryEscape(name), url.QueryEscape(recType)), nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, c.classify("list records", env)
	}
	var recs []cfRecord
	if err := json.Unmarshal(env.Result, &recs); err != nil {
		return nil, transientf("cloudflare list records: malformed response: %v", err)
	}
	for i := range recs {
		if recs[i].Name == name && recs[i].Type == recType {
			return &recs[i], nil
		}
	}
	return nil, nil
}

// do performs one API call and handles the transport-level failure classes.
// API-level failures (success=false) are left to the caller, which knows
// which error codes are expected for its operation.
func (c *Cloudflare) do(ctx context.Context, method, path string, body any) (*cfEnvelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, permanentf("cloudflare request encoding failed: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, permanentf("cloudflare request build failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transientf("cloudflare request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientf("cloudflare response read failed: %v", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &Error{
			Transient:  true,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("cloudflare returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	var env cfEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, transientf("cloudflare returned unparseable body (status %d)", resp.StatusCode)
	}
	env.statusCode = resp.StatusCode
	return &env, nil
}

// classify turns an API-level failure into a permanent provider error
// carrying Cloudflare's own message, so the user sees why the record content
// was rejected.
func (c *Cloudflare) classify(op string, env *cfEnvelope) *Error {
	msgs := make([]string, 0, len(env.Errors))
	for _, e := range env.Errors {
		msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return &Error{
		Transient:  false,
		StatusCode: env.statusCode,
		Message:    fmt.Sprintf("cloudflare %s failed: %s", op, strings.Join(msgs, "; ")),
	}
}

func hasNotFound(errs []cfError) bool {
	for _, e := range errs {
		if cfNotFoundCodes[e.Code] {
			return true
		}
	}
	return false
}

func toZone(z *cfZone) *Zone {
	return &Zone{ID: z.ID, Name: z.Name, Nameservers: z.Nameservers, Status: z.Status}
}
