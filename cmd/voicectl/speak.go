package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/besmart/voice-agent/internal/audio"
	"github.com/besmart/voice-agent/internal/config"
	"github.com/besmart/voice-agent/internal/hamsa"
)

func newSpeakCmd() *cobra.Command {
	var text, outPath, url, speaker, dialect string
	var sampleRate int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Synthesize text to a WAV file with the Hamsa REST endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiKey := config.GetEnv("HAMSA_API_KEY", "")
			if apiKey == "" {
				return fmt.Errorf("HAMSA_API_KEY is required")
			}
			if url == "" {
				url = config.GetEnv("HAMSA_TTS_URL", "https://api.tryhamsa.com/v1/realtime/tts-stream")
			}

			client := hamsa.NewClient(hamsa.Config{
				RESTURL:    url,
				APIKey:     apiKey,
				Speaker:    speaker,
				Dialect:    dialect,
				SampleRate: sampleRate,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			wav, err := client.SynthesizeWAV(ctx, text)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			if err := os.WriteFile(outPath, wav, 0o644); err != nil {
				return fmt.Errorf("error writing %s: %w", outPath, err)
			}

			info, err := audio.Inspect(wav)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d bytes, %d Hz, %d ch, %.2fs audio in %dms\n",
				outPath, len(wav), info.SampleRate, info.Channels, info.Duration, elapsed.Milliseconds())
			return err
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to speak")
	cmd.Flags().StringVar(&outPath, "out", "", "Output WAV file")
	cmd.Flags().StringVar(&url, "url", "", "REST synthesis URL (default: $HAMSA_TTS_URL)")
	cmd.Flags().StringVar(&speaker, "speaker", "Majd", "Voice")
	cmd.Flags().StringVar(&dialect, "dialect", "ksa", "Dialect")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "Sample rate used when the response is raw PCM")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Give up after this long")
	_ = cmd.MarkFlagRequired("text")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
