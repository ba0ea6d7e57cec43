package hamsa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/audio"
	"github.com/besmart/voice-agent/internal/observability"
)

// SynthesizeWAV calls the REST synthesis endpoint and returns a complete WAV
// file. Raw PCM responses are wrapped in a header.
func (c *Client) SynthesizeWAV(ctx context.Context, text string) (wav []byte, err error) {
	ctx, span := tracer.Start(ctx, "hamsa synthesize wav")
	defer func() { observability.EndSpan(span, err) }()

	body, err := json.Marshal(restTTSBody{
		Text:    text,
		Speaker: c.cfg.Speaker,
		Dialect: c.cfg.Dialect,
		Mulaw:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RESTURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating TTS request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Transport("hamsa tts request", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Transport("hamsa tts request", fmt.Errorf("non-OK HTTP status: %s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("hamsa tts read", err)
	}
	if len(data) == 0 {
		return nil, apperr.EmptyResult("no audio returned")
	}

	wrapped := !audio.IsWAV(data)
	format := audio.DefaultFormat
	if c.cfg.SampleRate > 0 {
		format.SampleRate = c.cfg.SampleRate
	}
	wav, err = audio.EnsureWAV(data, format)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(data)).
		Bool("wrapped", wrapped).
		Msg("REST synthesis finished")
	return wav, nil
}
