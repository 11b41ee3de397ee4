package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/journal"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) Setup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockJournal) Record(ctx context.Context, entry journal.Entry) error {
	return m.Called(ctx, entry).Error(0)
}

type blockingJournal struct {
	journal.NopJournal

	deadlineSet chan bool
}

func (j *blockingJournal) Record(ctx context.Context, entry journal.Entry) error {
	_, ok := ctx.Deadline()
	j.deadlineSet <- ok

	<-ctx.Done()

	return ctx.Err()
}

func newTestPublisher(t *testing.T, j journal.Journal, clock clockwork.Clock) (*Publisher, *broadcaster.InMemoryRegistry) {
	t.Helper()

	registry := broadcaster.NewInMemoryRegistry(zap.NewNop())

	return NewPublisher(zap.NewNop(), registry, j, metrics.New(registry), clock), registry
}

func TestPublisher_Announce(t *testing.T) {
	t.Run("broadcasts to every registered channel", func(t *testing.T) {
		p, registry := newTestPublisher(t, journal.NopJournal{}, clockwork.NewRealClock())
		a := broadcaster.NewQueueChannel(4)
		b := broadcaster.NewQueueChannel(4)
		require.NoError(t, registry.Register("a", a))
		require.NoError(t, registry.Register("b", b))

		before := time.Now().UnixMilli()

		payload, err := p.Announce(context.Background(), notification.TypeVouchersUpdated)

		require.NoError(t, err)
		assert.Equal(t, notification.TypeVouchersUpdated, payload.Type)
		assert.GreaterOrEqual(t, payload.Timestamp, before)

		for _, channel := range []*broadcaster.QueueChannel{a, b} {
			select {
			case data := <-channel.Queue():
				received, err := notification.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, payload, received)
			default:
				t.Fatal("channel did not receive the announcement")
			}
		}
	})

	t.Run("rejects the private greeting type", func(t *testing.T) {
		p, _ := newTestPublisher(t, journal.NopJournal{}, clockwork.NewRealClock())

		_, err := p.Announce(context.Background(), notification.TypeConnected)

		assert.True(t, ierr.HasCode(err, ierr.ErrorCodeInvalidArgument))
	})

	t.Run("records the announcement in the journal", func(t *testing.T) {
		j := &mockJournal{}
		fixed := time.UnixMilli(1760000000000)
		p, registry := newTestPublisher(t, j, clockwork.NewFakeClockAt(fixed))
		require.NoError(t, registry.Register("a", broadcaster.NewQueueChannel(4)))

		j.On("Record", mock.Anything, mock.MatchedBy(func(entry journal.Entry) bool {
			return entry.Type == notification.TypeVouchersUpdated &&
				entry.CreateTime.Equal(fixed) &&
				entry.Recipients == 1 &&
				entry.Failed == 0 &&
				entry.AnnouncementId != ""
		})).Return(nil).Once()

		payload, err := p.Announce(context.Background(), notification.TypeVouchersUpdated)

		require.NoError(t, err)
		assert.Equal(t, int64(1760000000000), payload.Timestamp)
		j.AssertExpectations(t)
	})

	t.Run("journal failure does not fail the announcement", func(t *testing.T) {
		j := &mockJournal{}
		p, _ := newTestPublisher(t, j, clockwork.NewFakeClock())

		j.On("Record", mock.Anything, mock.Anything).Return(errors.New("mongo down")).Once()

		_, err := p.Announce(context.Background(), notification.TypeVouchersUpdated)

		assert.NoError(t, err)
		j.AssertExpectations(t)
	})

	t.Run("a hanging journal cannot hold the announcement", func(t *testing.T) {
		j := &blockingJournal{deadlineSet: make(chan bool, 1)}
		p, registry := newTestPublisher(t, j, clockwork.NewRealClock())
		p.journalTimeout = 50 * time.Millisecond

		channel := broadcaster.NewQueueChannel(4)
		require.NoError(t, registry.Register("a", channel))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan error, 1)
		go func() {
			_, err := p.Announce(ctx, notification.TypeVouchersUpdated)
			done <- err
		}()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("announce blocked on the journal")
		}

		assert.True(t, <-j.deadlineSet)
		assert.Len(t, channel.Queue(), 1)
	})
}
