// Package adapters talks to the systems around the gate: recognition,
// the gate controller, the messaging relay and the PBX.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned by adapters built without a base URL.
var ErrNotConfigured = errors.New("adapter endpoint not configured")

// StatusError is a non-2xx answer from an upstream service.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.Status, e.Body)
}

const defaultTimeout = 10 * time.Second

// jsonClient posts JSON to one upstream base URL.
type jsonClient struct {
	base string
	http *http.Client
}

func newJSONClient(baseURL string, hc *http.Client) jsonClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return jsonClient{base: strings.TrimRight(strings.TrimSpace(baseURL), "/"), http: hc}
}

func (c jsonClient) post(ctx context.Context, path string, in, out any) error {
	if c.base == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c jsonClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
