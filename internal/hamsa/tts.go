package hamsa

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
)

// Synthesize streams audio for text, passing every binary frame to onChunk
// as it arrives. Chunks already delivered stay delivered if the call fails later.
func (c *Client) Synthesize(ctx context.Context, text string, onChunk func([]byte) error) (err error) {
	ctx, span := tracer.Start(ctx, "hamsa synthesize")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("request.text_length", len(text)),
		attribute.String("request.speaker", c.cfg.Speaker),
	)

	logger := zerolog.Ctx(ctx)

	req := request{
		Type: "tts",
		Payload: ttsPayload{
			Text:       text,
			Speaker:    c.cfg.Speaker,
			Dialect:    c.cfg.Dialect,
			LanguageID: c.cfg.Language,
			Mulaw:      false,
		},
	}

	chunks, bytes := 0, 0
	err = c.Exchange(ctx, req, func(f Frame) (bool, error) {
		if f.Binary {
			chunks++
			bytes += len(f.Data)
			return false, onChunk(f.Data)
		}

		msg, ok := parseControl(f.Data)
		if !ok {
			logger.Debug().Str("frame", string(f.Data)).Msg("Ignoring non-JSON synthesizer frame")
			return false, nil
		}

		switch msg.Type {
		case typeAck:
			logger.Debug().Str("message", msg.payload().Message).Msg("Synthesizer ack")
			return false, nil
		case typeEnd:
			return true, nil
		case typeError:
			message := msg.payload().Message
			if message == "" {
				message = "TTS error"
			}
			return false, apperr.Protocol("hamsa tts", message)
		default:
			logger.Debug().Str("type", msg.Type).Msg("Ignoring synthesizer message")
			return false, nil
		}
	})

	span.SetAttributes(attribute.Int("response.chunks", chunks), attribute.Int("response.bytes", bytes))
	logger.Debug().Int("chunks", chunks).Int("bytes", bytes).Msg("Synthesis finished")
	return err
}
