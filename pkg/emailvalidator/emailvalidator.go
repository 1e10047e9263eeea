// Package emailvalidator checks candidate addresses against an external
// validation service during contact ingest (spec.md §4.3.2, not on the send
// hot path). A cheap govalidator shape check runs first so syntactically
// invalid addresses never reach the network; calls against the remote
// service are bounded by a weighted semaphore and retried with exponential
// backoff.
package emailvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of validating one address.
type Result struct {
	Valid  bool
	Reason string
}

// Validator bounds concurrent calls to the remote Email Validator service
// and retries transient failures with exponential backoff.
type Validator struct {
	endpoint   string
	httpClient *http.Client
	sem        *semaphore.Weighted
	maxRetries int
	baseDelay  time.Duration
}

// New creates a Validator that POSTs to endpoint, allowing up to
// concurrency simultaneous in-flight requests.
func New(endpoint string, concurrency int64) *Validator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Validator{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sem:        semaphore.NewWeighted(concurrency),
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
	}
}

// Validate checks email, first with a local syntax check that short-circuits
// on an obviously malformed address, then against the remote service
// (POST /{email} -> {valid, reason?}), retrying transient failures with
// exponential backoff (base * 2^attempt) up to maxRetries.
func (v *Validator) Validate(ctx context.Context, email string) (Result, error) {
	if !govalidator.IsEmail(email) {
		return Result{Valid: false, Reason: "malformed address"}, nil
	}

	if err := v.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer v.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt < v.maxRetries; attempt++ {
		if attempt > 0 {
			delay := v.baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := v.callOnce(ctx, email)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return Result{}, fmt.Errorf("emailvalidator: giving up after %d attempts: %w", v.maxRetries, lastErr)
}

func (v *Validator) callOnce(ctx context.Context, email string) (Result, error) {
	url := v.endpoint + "/" + email
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return Result{}, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("emailvalidator: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return Result{Valid: false, Reason: string(body)}, nil
	}

	var payload struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, err
	}
	return Result{Valid: payload.Valid, Reason: payload.Reason}, nil
}
