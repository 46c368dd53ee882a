package datasource

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

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

// HTTPSource fetches a category snapshot from a JSON provider:
// GET {endpoint}/{category}?vin=...&dot=...
type HTTPSource struct {
	category   compliance.Category
	endpoint   string
	httpClient *http.Client
}

// NewHTTPSource creates a source for one category. A nil client gets a
// default with a conservative timeout; the scheduler applies its own
// per-category deadline on top.
func NewHTTPSource(category compliance.Category, endpoint string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{
		category:   category,
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: client,
	}
}

func (s *HTTPSource) Category() compliance.Category { return s.category }

// Fetch retrieves the snapshot. 404, 204, and a literal null body all mean
// the provider has no record of this vehicle and yield (nil, nil).
func (s *HTTPSource) Fetch(ctx context.Context, vin, dotNumber string) (*compliance.SnapshotEnvelope, error) {
	u, err := url.Parse(s.endpoint + "/" + string(s.category))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("vin", vin)
	if dotNumber != "" {
		q.Set("dot", dotNumber)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s fetch failed: %w", s.category, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s source returned %d: %s", s.category, resp.StatusCode, string(body))
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	env := &compliance.SnapshotEnvelope{}
	var target any
	switch s.category {
	case compliance.CategoryEmissions:
		env.Emissions = &compliance.EmissionsSnapshot{}
		target = env.Emissions
	case compliance.CategorySafety:
		env.Safety = &compliance.SafetySnapshot{}
		target = env.Safety
	case compliance.CategoryRegistration:
		env.Registration = &compliance.RegistrationSnapshot{}
		target = env.Registration
	case compliance.CategoryInsurance:
		env.Insurance = &compliance.InsuranceSnapshot{}
		target = env.Insurance
	case compliance.CategoryInspections:
		env.Inspections = &compliance.InspectionSnapshot{}
		target = env.Inspections
	default:
		return nil, fmt.Errorf("unknown category %q", s.category)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", s.category, err)
	}
	return env, nil
}
