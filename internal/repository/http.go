package repository

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl"
	"github.com/ruleflow/engine/internal/rferrors"
)

// HTTPRepository is the remote backend from spec.md §4.3: reads are
// idempotent GETs against a base URL, with an optional bearer credential.
// Grounded on the teacher's main.go stdlib http.Client idiom rather than a
// generated client, since no OpenAPI/proto definition for this surface
// exists anywhere in the retrieved pack.
type HTTPRepository struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRepository targets baseURL (e.g. "https://rules.internal/api").
// token, if non-empty, is sent as a Bearer credential on every request.
func NewHTTPRepository(baseURL, token string) *HTTPRepository {
	return &HTTPRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *HTTPRepository) get(ctx context.Context, path string) ([]byte, error) {
	u := r.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, rferrors.APIError(err.Error())
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, rferrors.APIError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rferrors.IOError(err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, rferrors.NotFound(path)
	default:
		return nil, rferrors.APIError(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, u))
	}
}

func (r *HTTPRepository) LoadRule(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error) {
	body, err := r.get(ctx, "rules/"+url.PathEscape(idOrPath))
	if err != nil {
		return nil, err
	}
	return dsl.ParseRule(body)
}

func (r *HTTPRepository) LoadRuleset(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error) {
	body, err := r.get(ctx, "rulesets/"+url.PathEscape(idOrPath))
	if err != nil {
		return nil, err
	}
	return dsl.ParseRuleset(body)
}

func (r *HTTPRepository) LoadPipeline(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error) {
	body, err := r.get(ctx, "pipelines/"+url.PathEscape(idOrPath))
	if err != nil {
		return nil, err
	}
	return dsl.ParsePipeline(body)
}

func (r *HTTPRepository) LoadRegistry(ctx context.Context) (*ast.PipelineRegistry, error) {
	body, err := r.get(ctx, "registry")
	if err != nil {
		return nil, err
	}
	return dsl.ParseRegistry(body)
}

func (r *HTTPRepository) ListRules(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, "rules")
}

func (r *HTTPRepository) ListRulesets(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, "rulesets")
}

func (r *HTTPRepository) ListPipelines(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, "pipelines")
}

func (r *HTTPRepository) listIDs(ctx context.Context, path string) ([]string, error) {
	body, err := r.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(body)), "\n"), nil
}

func (r *HTTPRepository) Exists(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.baseURL+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return false, rferrors.APIError(err.Error())
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false, rferrors.APIError(err.Error())
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
