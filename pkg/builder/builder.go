package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Artifact is the result of a successful build.
type Artifact struct {
	Location string `json:"artifact_location"`
}

// BuildError is a failure the runner itself reported, as opposed to a
// transport error reaching it.
type BuildError struct {
	Message string `json:"message"`
}

func (e *BuildError) Error() string { return e.Message }

// Driver runs one isolated build to completion. The call is synchronous
// and carries no application-level deadline: it returns when the runner
// finishes or fails.
type Driver interface {
	Start(ctx context.Context, jobID string) (*Artifact, error)
}

// HTTPDriver invokes the sandboxed build runner service.
type HTTPDriver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDriver returns a driver for the runner at baseURL. The client
// has no timeout: builds run as long as the runner allows.
func NewHTTPDriver(baseURL string) *HTTPDriver {
	return &HTTPDriver{baseURL: baseURL, client: &http.Client{}}
}

func (d *HTTPDriver) Start(ctx context.Context, jobID string) (*Artifact, error) {
	body, err := json.Marshal(map[string]string{"id": jobID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/build", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("build runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading build runner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var be BuildError
		if err := json.Unmarshal(raw, &be); err != nil || be.Message == "" {
			be.Message = fmt.Sprintf("build runner returned %s", resp.Status)
		}
		return nil, &be
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decoding build artifact: %w", err)
	}
	return &a, nil
}
