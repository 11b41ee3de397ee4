// Package receiver keeps a client's live feed connected, reconnecting with
// bounded, jittered backoff after failures.
package receiver

import (
	"context"
	"io"
	"sync"

	"github.com/goevery/livefeed/internal/eventbus"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const DefaultMaxAttempts = 5

type Options struct {
	Backoff     Backoff
	MaxAttempts int
	Clock       clockwork.Clock

	// OnStateChange is called with the receiver's lock held, in transition
	// order. It must not call back into the Receiver.
	OnStateChange func(State)
}

func DefaultOptions() Options {
	return Options{
		Backoff:     DefaultBackoff(),
		MaxAttempts: DefaultMaxAttempts,
		Clock:       clockwork.NewRealClock(),
	}
}

type Receiver struct {
	logger        *zap.Logger
	transport     Transport
	bus           *eventbus.Bus
	backoff       Backoff
	maxAttempts   int
	clock         clockwork.Clock
	onStateChange func(State)

	mu         sync.Mutex
	state      State
	attempt    int
	clientId   string
	generation uint64
	stopped    bool
	timer      clockwork.Timer
	cancel     context.CancelFunc
	stream     io.ReadCloser
}

func New(
	logger *zap.Logger,
	transport Transport,
	bus *eventbus.Bus,
	opts Options,
) *Receiver {
	defaults := DefaultOptions()

	if opts.Backoff.Base <= 0 || opts.Backoff.Max <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}

	return &Receiver{
		logger:        logger,
		transport:     transport,
		bus:           bus,
		backoff:       opts.Backoff,
		maxAttempts:   opts.MaxAttempts,
		clock:         opts.Clock,
		onStateChange: opts.OnStateChange,
		state:         Idle,
	}
}

func (r *Receiver) Start() {
	r.Connect()
}

// Connect opens the feed now. It is a no-op while a connection is being
// opened or is open, and after Stop.
func (r *Receiver) Connect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.state == Connecting || r.state == Open {
		return
	}

	if r.state == GivenUp {
		r.attempt = 0
	}

	r.stopTimerLocked()
	r.connectLocked()
}

// Stop is terminal. The pending retry, the in-flight dial and the open
// connection are all released.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	r.stopped = true
	r.generation++

	r.stopTimerLocked()
	r.releaseLocked()
	r.setStateLocked(Stopped)

	r.logger.Debug("live feed stopped")
}

func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Receiver) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempt
}

func (r *Receiver) ClientID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.clientId
}

func (r *Receiver) connectLocked() {
	r.generation++
	generation := r.generation

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.setStateLocked(Connecting)

	go r.run(ctx, generation)
}

func (r *Receiver) run(ctx context.Context, generation uint64) {
	stream, err := r.transport.Open(ctx)
	if err != nil {
		r.fail(generation, err)
		return
	}

	r.mu.Lock()

	if r.stopped || generation != r.generation {
		r.mu.Unlock()
		stream.Close()

		return
	}

	r.stream = stream
	r.attempt = 0
	r.setStateLocked(Open)

	r.mu.Unlock()

	r.logger.Info("live feed connected")

	events := NewEventReader(stream)

	for {
		data, err := events.Next()
		if err != nil {
			r.fail(generation, err)
			return
		}

		r.handle(generation, data)
	}
}

func (r *Receiver) handle(generation uint64, data []byte) {
	payload, err := notification.Decode(data)
	if err != nil {
		r.logger.Warn("discarding malformed payload", zap.Error(err))
		return
	}

	r.mu.Lock()

	current := !r.stopped && generation == r.generation
	if current && payload.Type == notification.TypeConnected {
		r.clientId = payload.ClientId
	}

	r.mu.Unlock()

	if !current {
		return
	}

	switch payload.Type {
	case notification.TypeConnected:
		r.logger.Info("live feed greeting received", zap.String("clientId", payload.ClientId))
	case notification.TypeVouchersUpdated:
		r.bus.Publish(eventbus.VouchersUpdated{Timestamp: payload.Timestamp})
	default:
		r.logger.Debug("ignoring unknown event type", zap.String("type", string(payload.Type)))
	}
}

func (r *Receiver) fail(generation uint64, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || generation != r.generation {
		return
	}

	r.releaseLocked()
	r.attempt++

	if r.attempt >= r.maxAttempts {
		r.setStateLocked(GivenUp)

		r.logger.Error("live feed gave up reconnecting",
			zap.Int("attempts", r.attempt),
			zap.Error(cause))

		return
	}

	delay := r.backoff.Delay(r.attempt)

	r.setStateLocked(ClosedByError)
	r.timer = r.clock.AfterFunc(delay, func() {
		r.retry(generation)
	})

	r.logger.Warn("live feed connection lost, retrying",
		zap.Int("attempt", r.attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

func (r *Receiver) retry(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || generation != r.generation || r.state != ClosedByError {
		return
	}

	r.timer = nil
	r.connectLocked()
}

func (r *Receiver) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Receiver) releaseLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	if r.stream != nil {
		r.stream.Close()
		r.stream = nil
	}
}

func (r *Receiver) setStateLocked(state State) {
	if r.state == state {
		return
	}

	r.state = state

	if r.onStateChange != nil {
		r.onStateChange(state)
	}
}
