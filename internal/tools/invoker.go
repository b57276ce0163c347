// Package tools implements the Tool Invocation Layer: the scoped HTTP
// client through which capability agents reach backend domain
// operations.
//
// Every call is permission-gated before any network traffic: the
// caller's role set must intersect the descriptor's required roles, or
// the call fails with an authorization error without touching the
// backend. Transient backend failures (5xx, connection errors) are
// retried with exponential backoff behind a per-domain circuit breaker;
// 4xx rejections and schema mismatches are surfaced immediately.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mypetparlor/concierge/internal/audit"
	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// Result is the decoded structured payload of one backend operation.
// Array responses are wrapped under "items".
type Result map[string]any

// Invoker executes backend operations on a caller's behalf.
type Invoker struct {
	baseURL     string
	appID       string
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
	breakers    map[models.Domain]*gobreaker.CircuitBreaker[Result]
	recorder    audit.Recorder
}

// NewInvoker builds the invocation layer with one circuit breaker per
// capability domain, so one misbehaving backend cannot brown out its
// siblings.
func NewInvoker(cfg config.ToolsConfig, recorder audit.Recorder) *Invoker {
	inv := &Invoker{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		appID:       cfg.ApplicationID,
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		breakers:    make(map[models.Domain]*gobreaker.CircuitBreaker[Result]),
		recorder:    recorder,
	}
	for _, d := range models.DomainPriority {
		inv.breakers[d] = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
			Name:    string(d),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return inv
}

// Invoke executes one declared backend operation. Path placeholders in
// the descriptor (e.g. "/bookings/{id}") are filled from args; the
// remaining args become query parameters. The turn's identity assertion
// rides along as the backend credential, unchanged.
func (inv *Invoker) Invoke(ctx context.Context, tc turn.Context, desc models.ToolDescriptor, args map[string]string) (Result, error) {
	if !tc.Identity.HasAnyRole(desc.RequiredRoles) {
		inv.record(ctx, tc, desc, audit.OutcomeDenied, "caller roles do not satisfy operation requirements")
		return nil, fmt.Errorf("%w: operation %s", models.ErrAuthorizationDenied, desc.OperationID)
	}

	breaker := inv.breakers[desc.Domain]
	result, err := breaker.Execute(func() (Result, error) {
		return inv.callWithRetry(ctx, tc, desc, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s backend circuit open", models.ErrTransientBackend, desc.Domain)
		}
		inv.record(ctx, tc, desc, audit.OutcomeError, err.Error())
		return nil, err
	}

	inv.record(ctx, tc, desc, audit.OutcomeOK, "")
	return result, nil
}

// callWithRetry retries transient failures up to the configured bound;
// rejections and malformed responses abort immediately.
func (inv *Invoker) callWithRetry(ctx context.Context, tc turn.Context, desc models.ToolDescriptor, args map[string]string) (Result, error) {
	var result Result

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = inv.backoffBase
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(inv.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		res, err := inv.call(ctx, tc, desc, args)
		if err != nil {
			if errors.Is(err, models.ErrTransientBackend) {
				log.Debug().
					Str("operation", desc.OperationID).
					Int("attempt", attempt).
					Err(err).
					Msg("transient backend failure, will retry")
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// call performs a single HTTP round trip and classifies the outcome.
func (inv *Invoker) call(ctx context.Context, tc turn.Context, desc models.ToolDescriptor, args map[string]string) (Result, error) {
	path := desc.Path
	query := url.Values{}
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
			continue
		}
		query.Set(k, v)
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("%w: unresolved path parameter in %s", models.ErrRejectedBackend, path)
	}

	endpoint := inv.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tc.Identity.Token)
	req.Header.Set("X-Application-Id", inv.appID)
	req.Header.Set("X-Tenant-Id", tc.Identity.TenantID)
	req.Header.Set("X-Deployment-Region", tc.Identity.Region)

	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTransientBackend, desc.OperationID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: status %d", models.ErrTransientBackend, desc.OperationID, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: status %d", models.ErrAuthorizationDenied, desc.OperationID, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: %s: status %d: %s", models.ErrRejectedBackend, desc.OperationID, resp.StatusCode, body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTransientBackend, desc.OperationID, err)
	}

	return decodeResult(desc.OperationID, raw)
}

// decodeResult accepts either a JSON object or a JSON array; anything
// else is a schema mismatch, fatal to the call.
func decodeResult(operationID string, raw []byte) (Result, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, malformed(operationID, err)
		}
		return Result{"items": items}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, malformed(operationID, err)
	}
	return obj, nil
}

func malformed(operationID string, err error) error {
	log.Error().Str("operation", operationID).Err(err).Msg("backend response failed schema decode")
	return fmt.Errorf("%w: %s: %v", models.ErrMalformedResponse, operationID, err)
}

func (inv *Invoker) record(ctx context.Context, tc turn.Context, desc models.ToolDescriptor, outcome audit.Outcome, detail string) {
	rec := audit.Record{
		ID:          uuid.New().String(),
		At:          time.Now().UTC(),
		Subject:     tc.Identity.Subject,
		TenantID:    tc.Identity.TenantID,
		Domain:      desc.Domain,
		OperationID: desc.OperationID,
		Outcome:     outcome,
		Detail:      detail,
	}
	if err := inv.recorder.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Str("operation", desc.OperationID).Msg("audit record failed")
	}
}
