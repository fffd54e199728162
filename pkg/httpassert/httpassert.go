// Package httpassert issues authenticated GETs against services under test
// and checks the response status and body.
package httpassert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/util"
)

// StatusMessage is the failure text for a status mismatch in AssertGet.
const StatusMessage = "Expected response code does not match with actual response"

const maxBodySize = 32 << 20

type Asserter struct {
	provider auth.Provider
	client   *http.Client
	schema   *jsonschema.Schema
}

type Option func(*Asserter)

func WithClient(c *http.Client) Option {
	return func(a *Asserter) {
		if c != nil {
			a.client = c
		}
	}
}

// WithSchema validates every returned body against s.
func WithSchema(s *jsonschema.Schema) Option {
	return func(a *Asserter) { a.schema = s }
}

func New(p auth.Provider, opts ...Option) *Asserter {
	a := &Asserter{provider: p, client: http.DefaultClient}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CompileSchema compiles a JSON schema document for WithSchema.
func CompileSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("response.json", doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := c.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// Get performs a GET on u and requires status expected. For 400 and 404 no
// body is returned. Otherwise the body must be JSON; a JSON null yields
// ok=false.
func (a *Asserter) Get(ctx context.Context, u *url.URL, expected int) (any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if err := auth.Inject(ctx, req, a.provider); err != nil {
		return nil, false, fmt.Errorf("inject token: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()
	util.Debug("GET %s -> %d", u, resp.StatusCode)

	if resp.StatusCode != expected {
		return nil, false, &common.StatusMismatchError{URL: u.String(), Expected: expected, Actual: resp.StatusCode}
	}
	if expected == http.StatusBadRequest || expected == http.StatusNotFound {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, false, fmt.Errorf("read body of %s: %w", u, err)
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false, fmt.Errorf("%w: %v", common.ErrMalformedBody, err)
	}
	if a.schema != nil {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", common.ErrMalformedBody, err)
		}
		if err := a.schema.Validate(inst); err != nil {
			return nil, false, fmt.Errorf("%w: schema validation: %v", common.ErrMalformedBody, err)
		}
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// AssertGet is Get for tests. It returns the decoded body, or nil when the
// expected status carries none.
func (a *Asserter) AssertGet(t require.TestingT, u *url.URL, expected int) any {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	v, _, err := a.Get(context.Background(), u, expected)

	var mismatch *common.StatusMismatchError
	if errors.As(err, &mismatch) {
		require.Equal(t, mismatch.Expected, mismatch.Actual, StatusMessage)
		return nil
	}
	require.NoError(t, err)
	return v
}
