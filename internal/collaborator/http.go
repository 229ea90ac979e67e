// Package collaborator bridges executor actions to the external
// side-effect services over HTTP.
//
// Each service exposes an internal JSON endpoint; the bridge posts one
// request per action and classifies the response for the retry policy:
// 2xx success, 429 and 5xx and network faults transient, any other 4xx
// permanent. The bridge never retries within a call.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowrule/flowrule/internal/circuitbreaker"
	"github.com/flowrule/flowrule/internal/executor"
	"github.com/flowrule/flowrule/internal/retry"
)

const defaultTimeout = 10 * time.Second

// Config holds the service endpoints. An empty URL makes the
// corresponding action types fail permanently.
type Config struct {
	SMSServiceURL   string
	EmailServiceURL string
	TaskServiceURL  string
	CRMServiceURL   string
	Timeout         time.Duration
}

// Bridge implements the executor collaborator interfaces.
type Bridge struct {
	config  Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
}

func NewBridge(config Config) *Bridge {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Bridge{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// WithBreaker attaches a circuit breaker keyed by endpoint URL.
func (b *Bridge) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Bridge {
	b.breaker = cb
	return b
}

func (b *Bridge) SendSMS(ctx context.Context, to, body string) error {
	return b.post(ctx, b.config.SMSServiceURL, "sms.send", map[string]any{
		"to":   to,
		"body": body,
	})
}

func (b *Bridge) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	return b.post(ctx, b.config.EmailServiceURL, "email.send", map[string]any{
		"to":        to,
		"subject":   subject,
		"html_body": htmlBody,
	})
}

func (b *Bridge) CreateTask(ctx context.Context, title, assignee string, dueAt *time.Time) error {
	payload := map[string]any{
		"title":    title,
		"assignee": assignee,
	}
	if dueAt != nil {
		payload["due_at"] = dueAt.UTC().Format(time.RFC3339)
	}
	return b.post(ctx, b.config.TaskServiceURL, "task.create", payload)
}

func (b *Bridge) TransitionPipeline(ctx context.Context, entityID, toPipelineID, toStageID string) error {
	return b.post(ctx, b.config.CRMServiceURL, "pipeline.transition", map[string]any{
		"entity_id":      entityID,
		"to_pipeline_id": toPipelineID,
		"to_stage_id":    toStageID,
	})
}

func (b *Bridge) MoveToStage(ctx context.Context, entityID, stageID string) error {
	return b.post(ctx, b.config.CRMServiceURL, "pipeline.move_stage", map[string]any{
		"entity_id": entityID,
		"stage_id":  stageID,
	})
}

func (b *Bridge) post(ctx context.Context, url, op string, payload map[string]any) error {
	if url == "" {
		return retry.Permanent(fmt.Errorf("%s: no service URL configured", op))
	}

	if b.breaker != nil {
		if err := b.breaker.Allow(url); err != nil {
			return retry.Transient(fmt.Errorf("%s: %w", op, err))
		}
	}

	payload["op"] = op
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: marshal: %w", op, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: create request: %w", op, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.recordFailure(url)
		return retry.Transient(fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b.recordSuccess(url)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		b.recordFailure(url)
		return retry.Transient(fmt.Errorf("%s: status %d", op, resp.StatusCode))
	default:
		// 4xx means the endpoint is healthy but rejected this request.
		b.recordSuccess(url)
		return retry.Permanent(fmt.Errorf("%s: status %d", op, resp.StatusCode))
	}
}

func (b *Bridge) recordSuccess(url string) {
	if b.breaker != nil {
		b.breaker.RecordSuccess(url)
	}
}

func (b *Bridge) recordFailure(url string) {
	if b.breaker != nil {
		b.breaker.RecordFailure(url)
	}
}

// Compile-time interface assertions
var (
	_ executor.Messenger      = (*Bridge)(nil)
	_ executor.Mailer         = (*Bridge)(nil)
	_ executor.TaskCreator    = (*Bridge)(nil)
	_ executor.PipelineClient = (*Bridge)(nil)
)
