package journal

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// BreakerJournal stops calling a failing journal for a while so that
// announcements do not each wait on a dead database.
type BreakerJournal struct {
	next    Journal
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerJournal(logger *zap.Logger, next Journal) *BreakerJournal {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("journal circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerJournal{
		next:    next,
		breaker: breaker,
	}
}

func (j *BreakerJournal) Setup(ctx context.Context) error {
	return j.next.Setup(ctx)
}

func (j *BreakerJournal) Record(ctx context.Context, entry Entry) error {
	_, err := j.breaker.Execute(func() (interface{}, error) {
		return nil, j.next.Record(ctx, entry)
	})

	return err
}

func (j *BreakerJournal) State() gobreaker.State {
	return j.breaker.State()
}
