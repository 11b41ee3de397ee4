package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goevery/livefeed/internal/notification"
	"github.com/spf13/cobra"
)

func newAnnounceCommand() *cobra.Command {
	var settings ClientSettings
	var eventType string

	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Announce a change to every connected client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := loadClientSettings(cmd.Flags(), &settings)
			if err != nil {
				return err
			}

			return announce(cmd, settings, notification.Type(eventType))
		},
	}

	addClientFlags(cmd.Flags(), &settings)
	cmd.Flags().StringVar(&eventType, "type", string(notification.TypeVouchersUpdated), "event type to announce")

	return cmd
}

func announce(cmd *cobra.Command, settings ClientSettings, eventType notification.Type) error {
	body, err := json.Marshal(map[string]any{"type": eventType})
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(settings.URL, "/") + "/announce"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+settings.Token)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to announce: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("announce rejected with status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(data)))

	return nil
}
