// Package content triggers preparation and delivery of a participant's daily
// content, either through a remote content service or locally.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/circuit"
	"zodiac/pkg/platform/middleware/request"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

const (
	deliveriesPath = "/v1/deliveries"
	tracerName     = "zodiac/internal/content"
)

type deliveryRequest struct {
	ParticipantID id.ParticipantID `json:"participant_id"`
	RequestedAt   time.Time        `json:"requested_at"`
}

// HTTPPreparer asks the content service to prepare and send today's content.
type HTTPPreparer struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
	tracer  trace.Tracer
	logger  *slog.Logger
}

type HTTPOption func(*HTTPPreparer)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPPreparer) {
		if c != nil {
			p.client = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(p *HTTPPreparer) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithTracer(t trace.Tracer) HTTPOption {
	return func(p *HTTPPreparer) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(p *HTTPPreparer) {
		p.logger = logger
	}
}

func NewHTTPPreparer(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPPreparer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &HTTPPreparer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.New("content-service"),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DeliverToday posts a delivery request. An unknown participant is reported
// as not found and does not count against the breaker.
func (p *HTTPPreparer) DeliverToday(ctx context.Context, pid id.ParticipantID) (err error) {
	ctx, span := p.tracer.Start(ctx, "content.DeliverToday",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("participant.id", int64(pid))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
	}()

	if !p.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "content service circuit open")
	}

	status, err := p.post(ctx, deliveryRequest{
		ParticipantID: pid,
		RequestedAt:   requestcontext.Now(ctx),
	})
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	switch {
	case err != nil:
		p.recordFailure(ctx)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "content service request failed")
	case status == http.StatusNotFound:
		p.breaker.RecordSuccess()
		return dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "content service does not know participant")
	case status >= 500:
		p.recordFailure(ctx)
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("content service returned %d", status))
	case status < 200 || status >= 300:
		p.breaker.RecordSuccess()
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("content service rejected request with %d", status))
	}

	if change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "content service circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}

func (p *HTTPPreparer) post(ctx context.Context, body deliveryRequest) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode delivery request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+deliveriesPath, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rid := requestcontext.RequestID(ctx); rid != "" {
		req.Header.Set(request.HeaderRequestID, rid)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *HTTPPreparer) recordFailure(ctx context.Context) {
	if change := p.breaker.RecordFailure(); change.Opened {
		p.logger.WarnContext(ctx, "content service circuit opened", "breaker", p.breaker.Name())
	}
}
