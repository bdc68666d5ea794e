// Package audit publishes security audit events to the Retraced publisher API.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

// ErrUnavailable means the circuit is open and the event was not sent
var ErrUnavailable = errors.New("audit transport unavailable")

// Config holds the three transport settings plus request limits
type Config struct {
	Endpoint  string
	APIKey    string
	ProjectID string
	Timeout   time.Duration
	Component string
	Version   string
}

// event is the Retraced publisher event shape
type event struct {
	Action      string            `json:"action"`
	CRUD        string            `json:"crud"`
	Group       *group            `json:"group,omitempty"`
	Actor       *actor            `json:"actor,omitempty"`
	Target      *target           `json:"target,omitempty"`
	SourceIP    string            `json:"source_ip,omitempty"`
	Description string            `json:"description,omitempty"`
	IsFailure   bool              `json:"is_failure,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Created     string            `json:"created"`
	Component   string            `json:"component,omitempty"`
	Version     string            `json:"version,omitempty"`
}

type group struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type actor struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type target struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// RetracedClient sends events over HTTP behind a circuit breaker
type RetracedClient struct {
	httpClient *resty.Client
	breaker    *gobreaker.CircuitBreaker
	cfg        Config
	logger     *slog.Logger
}

// NewRetracedClient creates a client for the given project
func NewRetracedClient(cfg Config, logger *slog.Logger) *RetracedClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Token token="+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "hms-sentinel/1.0")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "retraced",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.AuditBreakerState.Set(metrics.BreakerStateValue(to.String()))
			logger.Warn("audit transport circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &RetracedClient{httpClient: client, breaker: breaker, cfg: cfg, logger: logger}
}

// Publish sends one event. Returns ErrUnavailable without a network call while the circuit is open.
func (c *RetracedClient) Publish(ctx context.Context, e *models.SecurityAuditEvent) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, e)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (c *RetracedClient) send(ctx context.Context, e *models.SecurityAuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("project", c.cfg.ProjectID).
		SetBody(c.toEvent(e)).
		Post("/publisher/v1/project/{project}/event")
	if err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("audit publisher error (status %d): %s", resp.StatusCode(), resp.String())
	}

	return nil
}

func (c *RetracedClient) toEvent(e *models.SecurityAuditEvent) event {
	out := event{
		Action:    string(e.Action),
		CRUD:      e.CRUD,
		SourceIP:  e.SourceIP,
		IsFailure: isFailure(e.Action),
		Fields:    e.Metadata.Strings(),
		Created:   e.CreatedAt.UTC().Format(time.RFC3339),
		Component: c.cfg.Component,
		Version:   c.cfg.Version,
	}

	if e.Organization.ID != "" {
		out.Group = &group{ID: e.Organization.ID, Name: e.Organization.Name}
	}

	if e.Actor.ID != "" {
		fields := map[string]string{}
		if e.Actor.Email != "" {
			fields["email"] = e.Actor.Email
		}
		if e.Actor.Role != "" {
			fields["role"] = e.Actor.Role
		}
		if e.Actor.Department != "" {
			fields["department"] = e.Actor.Department
		}
		out.Actor = &actor{ID: e.Actor.ID, Name: e.Actor.Name, Fields: fields}
	}

	if e.Target != nil {
		out.Target = &target{ID: e.Target.ID, Name: e.Target.Name, Type: e.Target.Type}
	}

	return out
}

func isFailure(action models.AuditAction) bool {
	switch action {
	case models.AuditActionLoginFailure, models.AuditActionAPIKeyValidateFailure:
		return true
	}
	return false
}
