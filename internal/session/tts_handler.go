package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
)

const maxTTSBodyBytes = 64 << 10

// WAVSynthesizer renders text to a complete WAV file. *hamsa.Client implements it.
type WAVSynthesizer interface {
	SynthesizeWAV(ctx context.Context, text string) ([]byte, error)
}

type ttsRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// TTSHandler serves POST /api/tts: {"text": ...} in, audio/wav out
func TTSHandler(synth WAVSynthesizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.WithCorrelationID(r.Header.Get("X-Correlation-ID"))
		ctx := logger.WithContext(r.Context())

		var req ttsRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTTSBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidJSON)
			return
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			writeError(w, http.StatusBadRequest, "'text' is required")
			return
		}

		wav, err := synth.SynthesizeWAV(ctx, text)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("REST synthesis failed")
			observability.RecordError(apperr.KindOf(err).String(), observability.ComponentTTS)
			code := http.StatusBadGateway
			if apperr.Is(err, apperr.KindEmptyResult) {
				code = http.StatusNotFound
			}
			writeError(w, code, apperr.UserMessage(err))
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wav)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}
