package listsvc

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

	"github.com/ruleflow/engine/pkg/value"
)

// HTTPService is the remote backend from spec.md §4.8, grounded on the same
// stdlib http.Client idiom as internal/repository.HTTPRepository. Reads
// (Contains, GetAll) are idempotent GETs; Add/Remove issue POST/DELETE.
type HTTPService struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPService targets baseURL (e.g. "https://lists.internal/api").
func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		token:   token,
	}
}

func (s *HTTPService) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func (s *HTTPService) Contains(ctx context.Context, listID string, v value.Value) (bool, bool) {
	items, configured := s.GetAll(listID)
	if !configured {
		return false, false
	}
	return value.Contains(value.Array(items), v), true
}

func (s *HTTPService) GetAll(listID string) ([]value.Value, bool) {
	u := s.baseURL + "/lists/" + url.PathEscape(listID)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u, nil)
	if err != nil {
		return nil, false
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	var raw []interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	items := make([]value.Value, len(raw))
	for i, r := range raw {
		items[i] = value.FromNative(r)
	}
	return items, true
}

func (s *HTTPService) Add(ctx context.Context, listID string, v value.Value) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	u := s.baseURL + "/lists/" + url.PathEscape(listID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("listsvc: unexpected status %d adding to %s", resp.StatusCode, listID)
	}
	return nil
}

func (s *HTTPService) Remove(ctx context.Context, listID string, v value.Value) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	u := s.baseURL + "/lists/" + url.PathEscape(listID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("listsvc: unexpected status %d removing from %s", resp.StatusCode, listID)
	}
	return nil
}
