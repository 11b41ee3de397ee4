package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamServer_Open(t *testing.T) {
	stack := newTestStack(t, LimiterSettings{})

	client := openStream(t, stack.server.URL+"/events")

	t.Run("headers", func(t *testing.T) {
		header := client.resp.Header

		assert.Equal(t, http.StatusOK, client.resp.StatusCode)
		assert.Equal(t, "text/event-stream", header.Get("Content-Type"))
		assert.Equal(t, "no-cache, no-transform", header.Get("Cache-Control"))
		assert.Equal(t, "no", header.Get("X-Accel-Buffering"))
		assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("greeting carries the registered client id", func(t *testing.T) {
		greeting := client.nextPayload(t)

		assert.Equal(t, notification.TypeConnected, greeting.Type)
		assert.Zero(t, greeting.Timestamp)

		_, err := uuid.Parse(greeting.ClientId)
		assert.NoError(t, err)
		assert.Equal(t, []string{greeting.ClientId}, stack.registry.Ids())
	})

	t.Run("heartbeat comment on every interval", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()

		require.NoError(t, stack.clock.BlockUntilContext(ctx, 1))

		stack.clock.Advance(testStreamSettings.HeartbeatInterval)
		assert.Equal(t, ": heartbeat", client.nextBlock(t))

		stack.clock.Advance(testStreamSettings.HeartbeatInterval)
		assert.Equal(t, ": heartbeat", client.nextBlock(t))
	})
}

func TestStreamServer_Fanout(t *testing.T) {
	stack := newTestStack(t, LimiterSettings{})

	a := openStream(t, stack.server.URL+"/events")
	b := openStream(t, stack.server.URL+"/events")

	aId := a.nextPayload(t).ClientId
	bId := b.nextPayload(t).ClientId

	t.Run("every open stream receives the announcement", func(t *testing.T) {
		resp := stack.announce(t, testAPIKey, `{"type":"vouchersUpdated"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var announced notification.Payload
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&announced))

		assert.Equal(t, announced, a.nextPayload(t))
		assert.Equal(t, announced, b.nextPayload(t))
	})

	t.Run("a closed stream is unregistered and misses later events", func(t *testing.T) {
		a.Close()

		require.Eventually(t, func() bool {
			return stack.registry.Len() == 1
		}, waitFor, tick)
		assert.Equal(t, []string{bId}, stack.registry.Ids())
		assert.NotContains(t, stack.registry.Ids(), aId)

		resp := stack.announce(t, testAPIKey, `{"type":"vouchersUpdated"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, notification.TypeVouchersUpdated, b.nextPayload(t).Type)
	})

	t.Run("a connection that cannot take the write is dropped on broadcast", func(t *testing.T) {
		stale := broadcaster.NewQueueChannel(1)
		require.NoError(t, stale.Send([]byte("unread")))
		require.NoError(t, stack.registry.Register("stale", stale))

		resp := stack.announce(t, testAPIKey, `{"type":"vouchersUpdated"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, []string{bId}, stack.registry.Ids())
		assert.Equal(t, notification.TypeVouchersUpdated, b.nextPayload(t).Type)

		select {
		case <-stale.Done():
		default:
			t.Fatal("stale channel should be closed")
		}
	})
}

func TestStreamServer_Shutdown(t *testing.T) {
	stack := newTestStack(t, LimiterSettings{})

	client := openStream(t, stack.server.URL+"/events")
	client.nextPayload(t)

	stack.registry.Close()

	client.expectEnd(t)
}

func TestStreamServer_ConnectionLimit(t *testing.T) {
	stack := newTestStack(t, LimiterSettings{MaxConnections: 1})

	first := openStream(t, stack.server.URL+"/events")
	first.nextPayload(t)

	resp, err := http.Get(stack.server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body ierr.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ierr.ErrorCodeUnavailable, body.Code)
	assert.Equal(t, 1, stack.registry.Len())

	t.Run("slot is released when the stream ends", func(t *testing.T) {
		first.Close()

		require.Eventually(t, func() bool {
			return stack.limiter.Current() == 0
		}, waitFor, tick)
		assert.Equal(t, 0, stack.registry.Len())

		second := openStream(t, stack.server.URL+"/events")

		assert.Equal(t, notification.TypeConnected, second.nextPayload(t).Type)
	})
}

func TestGreet_PrecedesBroadcasts(t *testing.T) {
	stack := newTestStack(t, LimiterSettings{})
	channel := broadcaster.NewQueueChannel(4)

	require.NoError(t, greet(channel, "client-1"))
	require.NoError(t, stack.registry.Register("client-1", channel))

	_, err := stack.publisher.Announce(context.Background(), notification.TypeVouchersUpdated)
	require.NoError(t, err)

	first, err := notification.Decode(<-channel.Queue())
	require.NoError(t, err)
	assert.Equal(t, notification.Connected("client-1"), first)

	second, err := notification.Decode(<-channel.Queue())
	require.NoError(t, err)
	assert.Equal(t, notification.TypeVouchersUpdated, second.Type)
}
