package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/besmart/voice-agent/internal/latency"
	"github.com/besmart/voice-agent/internal/pipeline"
)

func newPipelineCmd() *cobra.Command {
	var url string
	var audioPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Send one audio payload through a running server and time every stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			audioBase64 := ""
			if audioPath != "" {
				data, err := os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("error reading audio file: %w", err)
				}
				audioBase64 = base64.StdEncoding.EncodeToString(data)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runPipelineProbe(ctx, cmd.OutOrStdout(), url, audioBase64)
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://localhost:8000/ws/agent/test-session/", "WebSocket URL of the voice agent")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio file to send (default: a tiny empty WAV)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")

	return cmd
}

func runPipelineProbe(ctx context.Context, out io.Writer, url, audioBase64 string) error {
	fmt.Fprintf(out, "Testing full voice pipeline\n  URL: %s\n\n", url)

	streaming := false
	res, err := latency.ProbePipeline(ctx, url, audioBase64, func(ev pipeline.Event) {
		switch ev.Type {
		case pipeline.EventStatus:
			fmt.Fprintf(out, "  Status: %s\n", ev.Message)
		case pipeline.EventTranscription:
			fmt.Fprintf(out, "  Transcription: %s\n", ev.Text)
		case pipeline.EventToken:
			if !streaming {
				fmt.Fprint(out, "  Tokens: ")
				streaming = true
			}
			fmt.Fprint(out, ev.Content)
		case pipeline.EventAgentResponse:
			if streaming {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "  Agent: %s\n", ev.Text)
		}
	})
	if err != nil {
		return err
	}

	if res.Error != "" {
		fmt.Fprintf(out, "\n  Error: %s\n", res.Error)
	} else {
		fmt.Fprintf(out, "\n  Pipeline complete: %d audio chunks, %d bytes\n", res.Chunks, res.AudioBytes)
	}
	fmt.Fprintf(out, "\n%s\n", latency.Render(res.Report))

	if res.Error != "" {
		return fmt.Errorf("pipeline failed: %s", res.Error)
	}
	return nil
}
