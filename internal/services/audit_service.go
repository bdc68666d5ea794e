package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/audit"
	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/pkg/logger"
	"github.com/google/uuid"
)

// AuditEmitter records security audit events. Emit never fails the caller:
// transport problems are logged and the event falls back to the local log.
type AuditEmitter interface {
	Emit(ctx context.Context, event *models.SecurityAuditEvent)
}

// AuditPublisher delivers an event to the external audit transport
type AuditPublisher interface {
	Publish(ctx context.Context, event *models.SecurityAuditEvent) error
}

// Reasons an event went to the local log instead of the transport
const (
	fallbackUnconfigured = "transport_unconfigured"
	fallbackUnavailable  = "transport_unavailable"
	fallbackError        = "transport_error"
	fallbackQueueFull    = "queue_full"
	fallbackClosed       = "shutting_down"
	fallbackUnknown      = "unknown_action"
)

// AuditServiceConfig controls normalization and delivery
type AuditServiceConfig struct {
	Environment string
	// QueueSize > 0 enables async delivery through that many buffered slots
	QueueSize int
	Workers   int
}

// AuditService normalizes events and forwards them to the transport or the local log
type AuditService struct {
	publisher AuditPublisher // nil when the transport is unconfigured
	local     *logger.AuditLogger
	env       string
	now       Clock
	logger    *slog.Logger

	queue  chan *models.SecurityAuditEvent
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAuditService creates a new AuditService. A nil publisher sends everything to the local log.
func NewAuditService(publisher AuditPublisher, local *logger.AuditLogger, cfg AuditServiceConfig, now Clock, logger *slog.Logger) *AuditService {
	s := &AuditService{
		publisher: publisher,
		local:     local,
		env:       cfg.Environment,
		now:       now,
		logger:    logger,
	}

	if publisher != nil && cfg.QueueSize > 0 {
		workers := cfg.Workers
		if workers < 1 {
			workers = 1
		}
		s.queue = make(chan *models.SecurityAuditEvent, cfg.QueueSize)
		for i := 0; i < workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	}

	return s
}

// Emit normalizes the event and hands it to the configured sink
func (s *AuditService) Emit(ctx context.Context, event *models.SecurityAuditEvent) {
	if event == nil {
		return
	}
	e := s.normalize(event)

	if !e.Action.IsValid() {
		s.logger.WarnContext(ctx, "audit event with unrecognized action", slog.String("action", string(e.Action)))
		s.writeLocal(ctx, e, fallbackUnknown)
		return
	}

	if s.publisher == nil {
		s.writeLocal(ctx, e, fallbackUnconfigured)
		return
	}

	if s.queue == nil {
		s.publish(context.WithoutCancel(ctx), e)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.writeLocal(ctx, e, fallbackClosed)
		return
	}

	select {
	case s.queue <- e:
	default:
		s.writeLocal(ctx, e, fallbackQueueFull)
	}
}

// Close stops accepting events and waits for queued ones to drain or ctx to expire
func (s *AuditService) Close(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for e := range s.queue {
		s.publish(context.Background(), e)
	}
}

func (s *AuditService) publish(ctx context.Context, e *models.SecurityAuditEvent) {
	err := s.publisher.Publish(ctx, e)
	if err == nil {
		metrics.AuditEventsTotal.WithLabelValues(metrics.SinkTransport, metrics.ResultOK).Inc()
		return
	}

	metrics.AuditEventsTotal.WithLabelValues(metrics.SinkTransport, metrics.ResultError).Inc()

	reason := fallbackError
	if errors.Is(err, audit.ErrUnavailable) {
		reason = fallbackUnavailable
	} else {
		s.logger.ErrorContext(ctx, "failed to publish audit event",
			slog.String("event_id", e.ID),
			slog.String("action", string(e.Action)),
			slog.String("error", err.Error()),
		)
	}
	s.writeLocal(ctx, e, reason)
}

func (s *AuditService) writeLocal(ctx context.Context, e *models.SecurityAuditEvent, reason string) {
	le := logger.AuditEvent{
		EventID:        e.ID,
		EventType:      string(e.Action),
		CRUD:           e.CRUD,
		ActorID:        e.Actor.ID,
		ActorName:      e.Actor.Name,
		OrganizationID: e.Organization.ID,
		IPAddress:      e.SourceIP,
		Success:        !isFailureAction(e.Action),
		Timestamp:      e.CreatedAt,
		Metadata:       e.Metadata.Strings(),
	}
	if e.Target != nil {
		le.TargetID = e.Target.ID
		le.TargetType = e.Target.Type
	}

	s.local.LogEvent(ctx, le, reason)
	metrics.AuditEventsTotal.WithLabelValues(metrics.SinkLocal, metrics.ResultOK).Inc()
}

// normalize returns a copy with ID, timestamps, environment and a single-letter CRUD verb
func (s *AuditService) normalize(event *models.SecurityAuditEvent) *models.SecurityAuditEvent {
	e := *event
	now := s.now()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CRUD = models.NormalizeCRUD(e.CRUD)

	md := make(models.AuditMetadata, len(event.Metadata)+2)
	for k, v := range event.Metadata {
		md[k] = v
	}
	md[models.AuditMetaServerTimestamp] = now.UTC().Format(time.RFC3339Nano)
	md[models.AuditMetaEnvironment] = s.env
	e.Metadata = md

	if e.Target != nil {
		t := *e.Target
		e.Target = &t
	}

	return &e
}

func isFailureAction(action models.AuditAction) bool {
	switch action {
	case models.AuditActionLoginFailure, models.AuditActionAPIKeyValidateFailure,
		models.AuditActionAccountLocked, models.AuditActionIPBlocked:
		return true
	}
	return false
}
