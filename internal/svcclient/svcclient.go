// Package svcclient implements the CallService instruction's delegate: a
// pipeline's Service step (or an inline service expression) invokes a named
// external RPC-like collaborator by posting its resolved parameters as JSON
// and returning the decoded response as a Value.
//
// Out of scope per spec.md §1 (the concrete wire protocol of any particular
// backend is an external collaborator), this package only defines the
// generic "POST params, decode JSON" shape every registered service shares.
// Grounded on the teacher's plain net/http client idiom (internal/repository
// http.go, internal/repository's HTTPRepository), the same reasoning DESIGN.md
// gives for not generating a client from a nonexistent OpenAPI spec.
package svcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/vm"
	"github.com/ruleflow/engine/pkg/value"
)

// Endpoint is one registered external service: a base URL the operation
// name is appended to, plus an optional bearer credential.
type Endpoint struct {
	BaseURL string
	Token   string
}

// Client implements vm.ServiceCaller by POSTing a CallService instruction's
// resolved params to "<BaseURL>/<operation>" and decoding the JSON response
// body into a Value.
type Client struct {
	endpoints map[string]Endpoint
	http      *http.Client
	timeout   time.Duration
}

// Option configures a Client at construction.
type Option func(*Client)

// WithTimeout overrides the per-call default (5s, per spec.md §5).
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New builds a Client over the given named endpoints.
func New(endpoints map[string]Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoints: endpoints,
		http:      &http.Client{},
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call implements vm.ServiceCaller: resolves spec.Params against rc (each
// param value is itself an ast.Expression, evaluated with the same
// operator semantics rule guards use so a Service step can reference
// event/user/features/vars like any other expression), POSTs the resulting
// JSON object, and decodes the response body as a Value.
func (c *Client) Call(ctx context.Context, spec ir.ServiceCallSpec, rc *reqcontext.Context) (value.Value, error) {
	ep, ok := c.endpoints[spec.Service]
	if !ok {
		return value.Null, rferrors.UnknownReference("service", spec.Service)
	}

	params := make(map[string]interface{}, len(spec.Params))
	for name, expr := range spec.Params {
		v, err := vm.EvalExpression(expr, rc)
		if err != nil {
			return value.Null, err
		}
		params[name] = v
	}

	body, err := json.Marshal(params)
	if err != nil {
		return value.Null, rferrors.InternalError(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(ep.BaseURL, "/") + "/" + spec.Operation
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return value.Null, rferrors.APIError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return value.Null, rferrors.Timeout()
		}
		return value.Null, rferrors.APIError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return value.Null, rferrors.APIError(fmt.Sprintf("service %q operation %q returned status %d", spec.Service, spec.Operation, resp.StatusCode))
	}

	var decoded value.Value
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return value.Null, rferrors.InternalError(err)
	}
	return decoded, nil
}
