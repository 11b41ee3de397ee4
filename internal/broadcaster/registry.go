package broadcaster

import (
	"errors"
	"sort"
	"sync"

	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/notification"
	"go.uber.org/zap"
)

type Registry interface {
	Register(id string, channel Channel) error
	Unregister(id string)
	Send(id string, payload notification.Payload) error
	Broadcast(payload notification.Payload) Delivery
	Len() int
	Ids() []string
}

// Delivery summarizes one broadcast pass.
type Delivery struct {
	Recipients int
	Failed     int
}

type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	channels map[string]Channel
}

func NewInMemoryRegistry(
	logger *zap.Logger,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:   logger,
		channels: make(map[string]Channel),
	}
}

func (r *InMemoryRegistry) Register(id string, channel Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[id]; ok {
		return ierr.New(ierr.ErrorCodeAlreadyExists, errors.New("connection already registered"))
	}

	r.channels[id] = channel

	r.logger.Debug("connection registered",
		zap.String("connectionId", id),
		zap.Int("connections", len(r.channels)))

	return nil
}

func (r *InMemoryRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, ok := r.channels[id]
	if !ok {
		return
	}

	r.removeLocked(id, channel)

	r.logger.Debug("connection unregistered",
		zap.String("connectionId", id),
		zap.Int("connections", len(r.channels)))
}

func (r *InMemoryRegistry) Send(id string, payload notification.Payload) error {
	data, err := notification.Encode(payload)
	if err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	r.mu.RLock()
	channel, ok := r.channels[id]
	r.mu.RUnlock()

	if !ok {
		return ierr.New(ierr.ErrorCodeNotFound, errors.New("connection not registered"))
	}

	err = channel.Send(data)
	if err != nil {
		r.logger.Warn("failed to send to connection, removing it",
			zap.String("connectionId", id),
			zap.Error(err))

		r.mu.Lock()
		r.removeLocked(id, channel)
		r.mu.Unlock()

		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}

func (r *InMemoryRegistry) Broadcast(payload notification.Payload) Delivery {
	data, err := notification.Encode(payload)
	if err != nil {
		r.logger.Error("failed to encode payload", zap.Error(err))

		return Delivery{}
	}

	type entry struct {
		id      string
		channel Channel
	}

	r.mu.RLock()

	entries := make([]entry, 0, len(r.channels))
	for id, channel := range r.channels {
		entries = append(entries, entry{id, channel})
	}

	r.mu.RUnlock()

	var failed []entry

	for _, e := range entries {
		err := e.channel.Send(data)
		if err != nil {
			r.logger.Warn("failed to send to connection, marking for removal",
				zap.String("connectionId", e.id),
				zap.Error(err))

			failed = append(failed, e)
		}
	}

	delivery := Delivery{
		Recipients: len(entries) - len(failed),
		Failed:     len(failed),
	}

	if len(failed) == 0 {
		return delivery
	}

	r.mu.Lock()

	for _, e := range failed {
		r.removeLocked(e.id, e.channel)
	}

	remaining := len(r.channels)

	r.mu.Unlock()

	r.logger.Info("removed dead connections",
		zap.Int("removed", len(failed)),
		zap.Int("connections", remaining))

	return delivery
}

func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels)
}

func (r *InMemoryRegistry) Ids() []string {
	r.mu.RLock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}

	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Close drops every connection. Used on process shutdown.
func (r *InMemoryRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, channel := range r.channels {
		r.removeLocked(id, channel)
	}
}

// IMPORTANT: It must be called only when a write lock is already held.
// The entry is removed only if it still holds the given channel.
func (r *InMemoryRegistry) removeLocked(id string, channel Channel) {
	current, ok := r.channels[id]
	if !ok || current != channel {
		return
	}

	delete(r.channels, id)
	channel.Close()
}
