package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goevery/livefeed/internal/eventbus"
	"github.com/goevery/livefeed/internal/receiver"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCommand() *cobra.Command {
	var settings ClientSettings

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live feed and print voucher updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := loadClientSettings(cmd.Flags(), &settings)
			if err != nil {
				return err
			}

			logger, err := buildZapLogger(settings.LogEncoding)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return watch(cmd, logger, settings)
		},
	}

	addClientFlags(cmd.Flags(), &settings)

	return cmd
}

func watch(cmd *cobra.Command, logger *zap.Logger, settings ClientSettings) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	bus := eventbus.New(logger)
	unsubscribe := eventbus.Subscribe(bus, func(e eventbus.VouchersUpdated) {
		fmt.Fprintf(cmd.OutOrStdout(), "vouchers updated at %s\n",
			time.UnixMilli(e.Timestamp).Format(time.RFC3339Nano))
	})
	defer unsubscribe()

	watcher := newStateWatcher(16)

	opts := receiver.DefaultOptions()
	opts.OnStateChange = watcher.observe

	transport := receiver.NewHTTPTransport(http.DefaultClient, strings.TrimSuffix(settings.URL, "/")+"/events")
	feed := receiver.New(logger, transport, bus, opts)

	feed.Start()
	defer feed.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watcher.givenUp:
			return fmt.Errorf("gave up connecting to %s", settings.URL)
		case state := <-watcher.states:
			logger.Info("live feed state changed", zap.Stringer("state", state))
		}
	}
}

// stateWatcher relays receiver transitions without blocking the receiver.
// Intermediate states may be dropped when nobody reads them, giving up never is.
type stateWatcher struct {
	states  chan receiver.State
	givenUp chan struct{}
	once    sync.Once
}

func newStateWatcher(size int) *stateWatcher {
	return &stateWatcher{
		states:  make(chan receiver.State, size),
		givenUp: make(chan struct{}),
	}
}

func (w *stateWatcher) observe(state receiver.State) {
	if state == receiver.GivenUp {
		w.once.Do(func() { close(w.givenUp) })
	}

	select {
	case w.states <- state:
	default:
	}
}
