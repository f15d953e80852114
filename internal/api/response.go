package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// errorMessageKeys are the fields the backend uses for an error message,
// in the order they are tried
var errorMessageKeys = []string{"message", "error", "title", "detail"}

// DecodeJSON decodes a 2xx response into target and closes the body.
// A non-2xx response is turned into an error with ReadError.
func DecodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ReadError(resp)
	}
	defer resp.Body.Close()

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return errors.Wrap(errors.ErrCodeUnexpectedResponse, "failed to decode response", err).
			WithStatus(resp.StatusCode)
	}
	return nil
}

// ReadError builds a ValidationError from a non-2xx response and closes the
// body. The message comes from a JSON message field when there is one, then
// the raw body, then the status text.
func ReadError(resp *http.Response) error {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return errors.NewValidationError(resp.StatusCode, errorMessage(resp.StatusCode, body))
}

func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, key := range errorMessageKeys {
			if v := parsed.Get(key); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
		// ASP.NET style validation problem: {"errors": {"Email": ["..."]}}
		if errs := parsed.Get("errors"); errs.IsObject() {
			var msgs []string
			errs.ForEach(func(_, v gjson.Result) bool {
				for _, m := range v.Array() {
					msgs = append(msgs, m.String())
				}
				return true
			})
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "<") {
		return text
	}

	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("Error %d (%s)", status, text)
	}
	return fmt.Sprintf("Error %d", status)
}
