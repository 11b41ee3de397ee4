package server

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goevery/livefeed/internal/auth"
	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/handler"
	"github.com/goevery/livefeed/internal/journal"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/goevery/livefeed/internal/publisher"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testAPIKey = "test-api-key"
	waitFor    = 2 * time.Second
	tick       = 5 * time.Millisecond
)

var testStreamSettings = StreamSettings{
	HeartbeatInterval: 20 * time.Second,
	BufferSize:        16,
}

type testStack struct {
	registry  *broadcaster.InMemoryRegistry
	publisher *publisher.Publisher
	limiter   *ConnectionLimiter
	clock     *clockwork.FakeClock
	server    *httptest.Server
}

func newTestStack(t *testing.T, limits LimiterSettings) *testStack {
	t.Helper()

	logger := zap.NewNop()
	clock := clockwork.NewFakeClock()
	registry := broadcaster.NewInMemoryRegistry(logger)
	m := metrics.New(registry)
	limiter := NewConnectionLimiter(limits, clock)
	authenticator := auth.NewAuthenticator(testSecret, []string{testAPIKey})
	pub := publisher.NewPublisher(logger, registry, journal.NopJournal{}, m, clock)

	router := mux.NewRouter()

	NewStreamServer(logger, registry, limiter, m, clock, testStreamSettings).Register(router)
	NewWebSocketServer(logger, &websocket.Upgrader{}, registry, limiter, m, clock, testStreamSettings).Register(router)
	NewRESTServer(
		logger,
		authenticator,
		handler.NewAnnounceHandler(handler.NewEventTypeValidator(), pub),
		handler.NewStatsHandler(registry),
		handler.NewHeartbeatHandler(clock),
		m,
	).Register(router)

	server := httptest.NewServer(router)

	t.Cleanup(func() {
		registry.Close()
		server.Close()
	})

	return &testStack{
		registry:  registry,
		publisher: pub,
		limiter:   limiter,
		clock:     clock,
		server:    server,
	}
}

func (s *testStack) announce(t *testing.T, token string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest("POST", s.server.URL+"/announce", bytes.NewBufferString(body))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// sseClient collects raw event blocks (lines up to a blank line) from a stream.
type sseClient struct {
	resp   *http.Response
	cancel context.CancelFunc
	blocks chan string
}

func openStream(t *testing.T, url string) *sseClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	c := &sseClient{
		resp:   resp,
		cancel: cancel,
		blocks: make(chan string, 32),
	}

	go func() {
		defer close(c.blocks)

		scanner := bufio.NewScanner(resp.Body)
		var lines []string

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if len(lines) > 0 {
					c.blocks <- strings.Join(lines, "\n")
					lines = nil
				}
				continue
			}
			lines = append(lines, line)
		}
	}()

	t.Cleanup(c.Close)

	return c
}

func (c *sseClient) Close() {
	c.cancel()
	c.resp.Body.Close()
}

func (c *sseClient) nextBlock(t *testing.T) string {
	t.Helper()

	select {
	case block, ok := <-c.blocks:
		require.True(t, ok, "stream ended")
		return block
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an event")
		return ""
	}
}

func (c *sseClient) nextPayload(t *testing.T) notification.Payload {
	t.Helper()

	for {
		block := c.nextBlock(t)
		if strings.HasPrefix(block, ":") {
			continue
		}

		data, ok := strings.CutPrefix(block, "data: ")
		require.True(t, ok, "unexpected block %q", block)

		payload, err := notification.Decode([]byte(data))
		require.NoError(t, err)

		return payload
	}
}

func (c *sseClient) expectEnd(t *testing.T) {
	t.Helper()

	deadline := time.After(waitFor)

	for {
		select {
		case _, ok := <-c.blocks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not end")
		}
	}
}
