package paid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ProvisionRequest struct {
	AgentID        string  `json:"agentId"`
	CustomerID     *string `json:"customerId"`
	SubscriptionID *string `json:"subscriptionId"`
	PlanID         *string `json:"planId"`
	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

type ProvisionResult struct {
	InstanceURL string
	JobID       string
}

type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provisioner failed with status %d", e.StatusCode)
}

type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)
}

// HTTPProvisioner posts provisioning requests to an external endpoint. A
// 2xx response without an instanceUrl means the job was accepted and will
// report back through the callback.
type HTTPProvisioner struct {
	url        string
	authToken  string
	httpClient *http.Client
}

func NewHTTPProvisioner(url, authToken string, httpClient *http.Client) *HTTPProvisioner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProvisioner{
		url:        strings.TrimSpace(url),
		authToken:  strings.TrimSpace(authToken),
		httpClient: httpClient,
	}
}

func (p *HTTPProvisioner) Provision(ctx context.Context, pr ProvisionRequest) (ProvisionResult, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("failed to encode provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("failed to build provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}
	if pr.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", pr.IdempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("provisioner request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProvisionResult{}, &StatusError{StatusCode: resp.StatusCode}
	}

	// a body that is not the expected object is treated as an accepted job
	var payload struct {
		InstanceURL string `json:"instanceUrl"`
		JobID       string `json:"jobId"`
	}
	_ = json.Unmarshal(raw, &payload)
	return ProvisionResult{InstanceURL: payload.InstanceURL, JobID: payload.JobID}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
