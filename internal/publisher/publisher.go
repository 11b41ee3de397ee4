package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/journal"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// DefaultJournalTimeout bounds how long Announce waits on the audit write
// after the broadcast has already happened.
const DefaultJournalTimeout = 2 * time.Second

type PublisherInterface interface {
	Announce(ctx context.Context, eventType notification.Type) (notification.Payload, error)
}

// Publisher turns a committed mutation into a broadcast. Announce returns only
// after the fan-out pass, so callers can report success afterwards.
type Publisher struct {
	logger   *zap.Logger
	registry broadcaster.Registry
	journal  journal.Journal
	metrics  *metrics.Metrics
	clock    clockwork.Clock

	journalTimeout time.Duration
}

func NewPublisher(
	logger *zap.Logger,
	registry broadcaster.Registry,
	journal journal.Journal,
	metrics *metrics.Metrics,
	clock clockwork.Clock,
) *Publisher {
	return &Publisher{
		logger:   logger,
		registry: registry,
		journal:  journal,
		metrics:  metrics,
		clock:    clock,

		journalTimeout: DefaultJournalTimeout,
	}
}

func (p *Publisher) Announce(ctx context.Context, eventType notification.Type) (notification.Payload, error) {
	if !eventType.Announceable() {
		return notification.Payload{},
			ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("event type cannot be announced: "+string(eventType)))
	}

	announcedAt := p.clock.Now()
	payload := notification.New(eventType, announcedAt)
	announcementId := gonanoid.Must()

	delivery := p.registry.Broadcast(payload)

	p.metrics.ObserveAnnouncement(eventType, delivery)

	p.logger.Info("announcement broadcast",
		zap.String("announcementId", announcementId),
		zap.String("type", string(eventType)),
		zap.Int("recipients", delivery.Recipients),
		zap.Int("failed", delivery.Failed))

	// The request may already be gone; the audit write still gets its own budget.
	recordCtx, recordCtxCancel := context.WithTimeout(context.WithoutCancel(ctx), p.journalTimeout)
	defer recordCtxCancel()

	err := p.journal.Record(recordCtx, journal.Entry{
		AnnouncementId: announcementId,
		Type:           eventType,
		CreateTime:     announcedAt,
		Recipients:     delivery.Recipients,
		Failed:         delivery.Failed,
	})
	if err != nil {
		p.logger.Warn("failed to record announcement",
			zap.String("announcementId", announcementId),
			zap.Error(err))
	}

	return payload, nil
}
