// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// Probe Capability
// =============================================================================

// EndpointResult is the outcome of probing one capability endpoint.
//
// Err is non-nil only for transport-level failures (DNS, refused
// connection, timeout). HTTP responses of any status are reported via
// StatusCode with Err nil.
type EndpointResult struct {
	Endpoint   string
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// Probe is the read-only health-check capability handed to the Monitor.
//
// # Description
//
// Implementations probe the surrounding application without mutating it.
// Reachability checks a fixed small set of internal capability endpoints;
// StorageLatency performs one lightweight storage round-trip and returns
// the elapsed time.
//
// Both methods must honor ctx cancellation: a hung probe must not block
// the health-check task past its deadline.
type Probe interface {
	Reachability(ctx context.Context) []EndpointResult
	StorageLatency(ctx context.Context) (time.Duration, error)
}

// =============================================================================
// HTTP Probe
// =============================================================================

// HTTPProbe probes capability endpoints and storage over HTTP.
//
// This is the production Probe: the content platform exposes internal
// capability endpoints (idea generation, publishing, billing) plus a
// storage ping endpoint that performs one lightweight read.
type HTTPProbe struct {
	// BaseURL is the root of the surrounding application,
	// e.g. "http://127.0.0.1:5000".
	BaseURL string

	// Endpoints are capability paths probed by Reachability,
	// e.g. "/api/posts", "/api/ai/ideas".
	Endpoints []string

	// StoragePath is the storage round-trip path probed by
	// StorageLatency, e.g. "/api/internal/storage-ping".
	StoragePath string

	// Client is the HTTP client used for all probes. If nil,
	// a client with a 10s timeout is used.
	Client *http.Client
}

// NewHTTPProbe creates an HTTPProbe with a 10-second client timeout.
func NewHTTPProbe(baseURL string, endpoints []string, storagePath string) *HTTPProbe {
	return &HTTPProbe{
		BaseURL:     baseURL,
		Endpoints:   endpoints,
		StoragePath: storagePath,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// Reachability probes every configured capability endpoint.
//
// One result is returned per endpoint; a transport failure on one
// endpoint does not short-circuit the rest.
func (p *HTTPProbe) Reachability(ctx context.Context) []EndpointResult {
	results := make([]EndpointResult, 0, len(p.Endpoints))
	for _, endpoint := range p.Endpoints {
		results = append(results, p.probeOne(ctx, endpoint))
	}
	return results
}

func (p *HTTPProbe) probeOne(ctx context.Context, endpoint string) EndpointResult {
	result := EndpointResult{Endpoint: endpoint}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+endpoint, nil)
	if err != nil {
		result.Err = fmt.Errorf("build probe request: %w", err)
		return result
	}

	start := time.Now()
	resp, err := p.client().Do(req)
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	return result
}

// StorageLatency performs one storage round-trip read and returns the
// elapsed time. A transport failure returns a non-nil error; the caller
// treats that as a storage outage, not slow storage.
func (p *HTTPProbe) StorageLatency(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+p.StoragePath, nil)
	if err != nil {
		return 0, fmt.Errorf("build storage probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client().Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("storage round-trip failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return elapsed, fmt.Errorf("storage round-trip returned status %d", resp.StatusCode)
	}
	return elapsed, nil
}

var _ Probe = (*HTTPProbe)(nil)
