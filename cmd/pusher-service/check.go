package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pusher/internal/chat"
	"pusher/internal/config"
	"pusher/internal/forwarder"
)

func checkWebhooksCmd() *cobra.Command {
	var (
		send  bool
		count int
	)

	cmd := &cobra.Command{
		Use:   "check-webhooks",
		Short: "List configured webhook destinations, optionally sending test events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			out := cmd.OutOrStdout()
			urls := forwarder.ParseDestinationURLs(cfg.Forwarder.WebhookURLs)
			fmt.Fprintf(out, "Configured destinations: %d\n", len(urls))
			for i, u := range urls {
				fmt.Fprintf(out, "  %d. %s\n", i+1, u)
			}
			if len(urls) == 0 {
				return forwarder.ErrNoDestinations
			}
			if !send {
				return nil
			}

			fwd, err := forwarder.NewFromConfig(cfg.Forwarder, cfg.CircuitBreaker, log)
			if err != nil {
				return err
			}
			defer fwd.Close()

			if count < 1 {
				count = 1
			}
			events := make([]interface{}, count)
			for i := range events {
				events[i] = chat.NewPayload(testEvent(cfg.Broker, i+1))
			}

			batch := fwd.ForwardBatch(cmd.Context(), events)
			printBatch(out, batch)
			if batch.Successful == 0 {
				return fmt.Errorf("no test event was accepted by any destination")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&send, "send", false, "Send synthetic chat events to every destination")
	cmd.Flags().IntVar(&count, "count", 1, "Number of test events to send with --send")
	return cmd
}

func testEvent(cfg config.BrokerConfig, n int) *chat.Event {
	now := time.Now().UTC()
	return &chat.Event{
		Topic:           cfg.Topic(),
		Timestamp:       now,
		ShopID:          cfg.ShopID,
		MarketplaceCode: cfg.MarketplaceCode,
		FromBuyer:       true,
		Content: chat.Content{
			Type: chat.ContentText,
			Text: fmt.Sprintf("Webhook test message %d", n),
		},
		MessageID:     "test-" + uuid.NewString(),
		SessionID:     "test-session",
		BuyerID:       "test-buyer",
		BuyerNickName: "Webhook Test",
		From:          chat.Account{ID: "test-buyer", Type: "1"},
		To:            chat.Account{ID: cfg.ShopID, Type: "2"},
		HasMessage:    true,
	}
}

func printBatch(w io.Writer, batch *forwarder.BatchOutcome) {
	for i, o := range batch.Outcomes {
		if o == nil {
			continue
		}
		fmt.Fprintf(w, "Event %d: %d/%d destinations succeeded\n", i+1, o.Successful, o.Total)
		for _, r := range o.Results {
			status := "ok"
			if !r.Success {
				status = "failed: " + r.Error
			}
			fmt.Fprintf(w, "  %s status=%d attempts=%d %s\n", r.Destination, r.StatusCode, r.Attempts, status)
		}
	}
	fmt.Fprintf(w, "Summary: %d successful, %d failed of %d events\n", batch.Successful, batch.Failed, batch.Total)
}
