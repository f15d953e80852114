package api

import (
	"context"
	"io"
	"net/http"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// RawResponse is an undecoded backend response
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the response status is 2xx
func (r *RawResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Raw performs an authorized request and returns the response body without
// interpreting it. Used by `bodega api` for the CRUD endpoints.
func (c *Client) Raw(ctx context.Context, method, path string, body []byte) (*RawResponse, error) {
	var payload any
	if len(body) > 0 {
		payload = body
	}

	resp, err := c.Do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readLimited(resp)
	if err != nil {
		return nil, err
	}

	return &RawResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// Get performs an authorized GET and returns the raw body of a 2xx
// response. Anything else is an error.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ReadError(resp)
	}

	return readLimited(resp)
}

// maxBody bounds a response body read into memory
const maxBody = 16 << 20

func readLimited(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// Err returns nil for a 2xx response and a ValidationError carrying the
// backend's message otherwise
func (r *RawResponse) Err() error {
	if r.OK() {
		return nil
	}
	return errors.NewValidationError(r.Status, errorMessage(r.Status, r.Body))
}
