package hamsa

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
)

// Transcribe sends base64 audio to the recognizer and returns the transcript.
// The transcript may be empty when the recognizer ends without one.
func (c *Client) Transcribe(ctx context.Context, audioBase64 string) (transcript string, err error) {
	ctx, span := tracer.Start(ctx, "hamsa transcribe")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("request.audio_base64_length", len(audioBase64)),
		attribute.String("request.language", c.cfg.Language),
	)

	logger := zerolog.Ctx(ctx)

	req := request{
		Type: "stt",
		Payload: sttPayload{
			AudioBase64:  audioBase64,
			Language:     c.cfg.Language,
			IsEosEnabled: true,
			EosThreshold: c.cfg.EOSThreshold,
		},
	}

	err = c.Exchange(ctx, req, func(f Frame) (bool, error) {
		if f.Binary {
			logger.Debug().Int("bytes", len(f.Data)).Msg("Skipping binary frame from recognizer")
			return false, nil
		}

		msg, ok := parseControl(f.Data)
		if !ok {
			// plain text frames carry the transcript itself
			transcript = string(f.Data)
			return true, nil
		}

		switch msg.Type {
		case typeTranscription:
			transcript = msg.payload().Text
			return true, nil
		case typeEnd:
			return true, nil
		case typeError:
			message := msg.payload().Message
			if message == "" {
				message = "STT error"
			}
			return false, apperr.Protocol("hamsa stt", message)
		default:
			logger.Debug().Str("type", msg.Type).Msg("Ignoring recognizer message")
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.Int("response.transcript_length", len(transcript)))
	return transcript, nil
}
