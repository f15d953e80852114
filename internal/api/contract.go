package api

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

//go:embed openapi.yaml
var contractYAML []byte

// Contract is the backend contract for the endpoints bodega depends on
type Contract struct {
	doc    *openapi3.T
	router routers.Router
}

var (
	contractOnce sync.Once
	contract     *Contract
	contractErr  error
)

// LoadContract parses and validates the embedded OpenAPI document. The
// result is cached.
func LoadContract() (*Contract, error) {
	contractOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(contractYAML)
		if err != nil {
			contractErr = fmt.Errorf("failed to parse backend contract: %w", err)
			return
		}
		if err := doc.Validate(loader.Context); err != nil {
			contractErr = fmt.Errorf("backend contract is invalid: %w", err)
			return
		}
		router, err := legacy.NewRouter(doc)
		if err != nil {
			contractErr = fmt.Errorf("failed to build contract router: %w", err)
			return
		}
		contract = &Contract{doc: doc, router: router}
	})
	return contract, contractErr
}

// Document returns the parsed OpenAPI document
func (c *Contract) Document() *openapi3.T {
	return c.doc
}

// Operations lists "METHOD /path" for every operation in the contract
func (c *Contract) Operations() []string {
	var ops []string
	for _, path := range c.doc.Paths.InMatchingOrder() {
		item := c.doc.Paths.Value(path)
		for method := range item.Operations() {
			ops = append(ops, method+" "+path)
		}
	}
	return ops
}

func (c *Contract) route(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, params, err := c.router.FindRoute(req)
	if err != nil {
		return nil, err
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: params,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}, nil
}

// ValidateRequest checks req against the contract. The request body is
// restored so the request can still be served.
func (c *Contract) ValidateRequest(ctx context.Context, req *http.Request) error {
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		defer func() { req.Body = io.NopCloser(bytes.NewReader(body)) }()
	}

	input, err := c.route(req)
	if err != nil {
		return contractError(req.Method, req.URL.Path, err)
	}
	if err := openapi3filter.ValidateRequest(ctx, input); err != nil {
		return contractError(req.Method, req.URL.Path, err)
	}
	return nil
}

// ValidateResponse checks a response to method+path against the contract.
// path is relative to the api_url.
func (c *Contract) ValidateResponse(ctx context.Context, method, path string, status int, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://contract"+path, nil)
	if err != nil {
		return err
	}

	input, err := c.route(req)
	if err != nil {
		return contractError(method, path, err)
	}
	input.Options.IncludeResponseStatus = true

	err = openapi3filter.ValidateResponse(ctx, &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 status,
		Header:                 header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options:                input.Options,
	})
	if err != nil {
		return contractError(method, path, err)
	}
	return nil
}

func contractError(method, path string, err error) error {
	return errors.Wrap(errors.ErrCodeContractViolation,
		fmt.Sprintf("%s %s does not match the backend contract", method, path), err)
}
