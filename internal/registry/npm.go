package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NPMSearcher queries the public NPM registry's search endpoint for
// candidate `npx`-launchable MCP server packages.
type NPMSearcher struct {
	BaseURL string
	Client  *http.Client
}

// NewNPMSearcher constructs a searcher against the real registry; pass a
// BaseURL override in tests to point at an httptest.Server instead.
func NewNPMSearcher() *NPMSearcher {
	return &NPMSearcher{
		BaseURL: "https://registry.npmjs.org",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type npmSearchResponse struct {
	Objects []struct {
		Package struct {
			Name        string `json:"name"`
			Version     string `json:"version"`
			Description string `json:"description"`
		} `json:"package"`
	} `json:"objects"`
}

func (s *NPMSearcher) Search(ctx context.Context, query string, limit int) ([]PackageHit, error) {
	if limit <= 0 {
		limit = 20
	}
	u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", s.BaseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("npm search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("npm search: unexpected status %d", resp.StatusCode)
	}

	var parsed npmSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("npm search: decoding response: %w", err)
	}

	hits := make([]PackageHit, 0, len(parsed.Objects))
	for _, o := range parsed.Objects {
		hits = append(hits, PackageHit{
			Name:        o.Package.Name,
			Version:     o.Package.Version,
			Description: o.Package.Description,
		})
	}
	return hits, nil
}
