package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PyPISearcher resolves a single candidate package by exact name against
// PyPI's JSON API, for `uv`/`python`-launchable MCP servers. PyPI's public
// search endpoint is XML-RPC only and rate-limited, so lookup is by exact
// name rather than free-text query, matching what a "simple HTTP client"
// can reasonably do.
type PyPISearcher struct {
	BaseURL string
	Client  *http.Client
}

func NewPyPISearcher() *PyPISearcher {
	return &PyPISearcher{
		BaseURL: "https://pypi.org/pypi",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type pypiProjectResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Summary string `json:"summary"`
	} `json:"info"`
}

// Search treats query as an exact PyPI project name and returns at most
// one hit. limit is accepted for interface parity with NPMSearcher but
// unused.
func (s *PyPISearcher) Search(ctx context.Context, query string, limit int) ([]PackageHit, error) {
	u := fmt.Sprintf("%s/%s/json", s.BaseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pypi lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pypi lookup: unexpected status %d", resp.StatusCode)
	}

	var parsed pypiProjectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("pypi lookup: decoding response: %w", err)
	}
	return []PackageHit{{
		Name:        parsed.Info.Name,
		Version:     parsed.Info.Version,
		Description: parsed.Info.Summary,
	}}, nil
}
