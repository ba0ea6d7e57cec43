package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/besmart/voice-agent/internal/agent"
	"github.com/besmart/voice-agent/internal/config"
	"github.com/besmart/voice-agent/internal/latency"
)

func newAgentCmd() *cobra.Command {
	var url, text, sessionID, producer, finalProducer string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Stream one reply from the dialogue agent webhook and time it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				url = config.GetEnv("WEBHOOK_URL", "")
			}
			if url == "" {
				return fmt.Errorf("--url or WEBHOOK_URL is required")
			}

			client := agent.NewClient(agent.Config{
				URL:     url,
				Timeout: timeout,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing webhook endpoint\n  URL: %s\n  Text: %s\n  Session: %s\n\n", url, text, sessionID)

			res, err := latency.ProbeAgent(ctx, client,
				agent.Request{Text: text, SessionID: sessionID},
				producer, finalProducer,
				func(token string) { fmt.Fprint(out, token) })
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n\n  Response: %s\n", res.Response)
			fmt.Fprintf(out, "  Tokens: %d, streaming time: %dms\n", res.Tokens, res.Streaming.Milliseconds())
			fmt.Fprintf(out, "\n%s\n", latency.Render(res.Report))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Webhook URL (default: $WEBHOOK_URL)")
	cmd.Flags().StringVar(&text, "text", "السلام عليكم", "Text to send to the agent")
	cmd.Flags().StringVar(&sessionID, "session", "test", "Session ID sent with the request")
	cmd.Flags().StringVar(&producer, "producer", "Conversation Agent", "Node whose items are tokens")
	cmd.Flags().StringVar(&finalProducer, "final-producer", "Respond to Webhook", "Node whose item carries the final output")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Give up after this long")

	return cmd
}
