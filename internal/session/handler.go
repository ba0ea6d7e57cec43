package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/audio"
	"github.com/besmart/voice-agent/internal/observability"
	"github.com/besmart/voice-agent/internal/pipeline"
)

const (
	msgInvalidJSON    = "Invalid JSON"
	msgAudioRequired  = "'audio_base64' is required"
	msgAudioNotBase64 = "'audio_base64' is not valid base64"
	defaultMaxMessage = 32 << 20
	defaultCloseWait  = 2 * time.Second
)

// Runner executes one pipeline run. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, emitter pipeline.Emitter) (*pipeline.Result, error)
}

// Config tunes the session boundary
type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool
}

// Handler serves /ws/agent/{session_id}/. Each connection is one session;
// audio payloads are run one after another in arrival order. A malformed
// payload is answered with an error event in the same order, so it never
// lands inside the event stream of a run that is still in progress.
type Handler struct {
	runner   Runner
	cfg      Config
	upgrader websocket.Upgrader
}

func NewHandler(runner Runner, cfg Config) *Handler {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessage
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		runner: runner,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// inbound is one queued frame: a request to run or the input error to report
type inbound struct {
	req pipeline.Request
	err error
}

type inboundMessage struct {
	AudioBase64 *string `json:"audio_base64"`
}

// parseInbound validates one text frame into a pipeline request and
// returns the decoded audio alongside it
func parseInbound(sessionID string, data []byte) (pipeline.Request, []byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return pipeline.Request{}, nil, apperr.Input(msgInvalidJSON)
	}
	if msg.AudioBase64 == nil || *msg.AudioBase64 == "" {
		return pipeline.Request{}, nil, apperr.Input(msgAudioRequired)
	}
	decoded, err := base64.StdEncoding.DecodeString(*msg.AudioBase64)
	if err != nil {
		return pipeline.Request{}, nil, apperr.Input(msgAudioNotBase64)
	}
	return pipeline.Request{
		SessionID:   sessionID,
		AudioBase64: *msg.AudioBase64,
		AudioBytes:  len(decoded),
	}, decoded, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	logger := observability.SessionLogger(sessionID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	observability.SessionOpened()
	defer observability.SessionClosed()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Session connected")

	// the request context is not cancelled by a hijacked connection going away
	ctx, cancel := context.WithCancel(logger.WithContext(context.WithoutCancel(r.Context())))
	defer cancel()

	writer := newOutboundWriter(conn, h.cfg.WriteTimeout, h.cfg.PingInterval)
	go func() {
		if err := writer.Run(context.WithoutCancel(ctx)); err != nil {
			logger.Debug().Err(err).Msg("Outbound writer stopped")
		}
	}()
	_ = writer.Emit(ctx, pipeline.StatusEvent(pipeline.MsgConnected))

	requests := pipeline.NewQueue[inbound]()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		h.runRequests(ctx, requests, writer)
	}()

	h.readLoop(ctx, conn, sessionID, requests)

	cancel()
	requests.Close()
	<-runnerDone

	writer.Close()
	select {
	case <-writer.Done():
	case <-time.After(defaultCloseWait):
	}
	logger.Info().Msg("Session closed")
}

// readLoop consumes inbound frames until the peer goes away
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, requests *pipeline.Queue[inbound]) {
	logger := zerolog.Ctx(ctx)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			logger.Debug().Int("bytes", len(data)).Msg("Ignoring binary frame")
			continue
		}

		req, decoded, err := parseInbound(sessionID, data)
		if err != nil {
			logger.Warn().Err(err).Msg("Rejected inbound message")
			observability.RecordError(apperr.KindOf(err).String(), "session")
			if pushErr := requests.Push(inbound{err: err}); pushErr != nil {
				return
			}
			continue
		}

		stats := audio.Analyze(decoded)
		event := logger.Info().Int("audio_bytes", req.AudioBytes).Bool("wav", stats.WAV)
		if stats.WAV {
			event = event.Uint32("sample_rate", stats.SampleRate).
				Float64("duration_s", stats.Duration).
				Float64("rms", stats.RMS)
		}
		event.Int("queued", requests.Len()).Msg("Audio received")
		if stats.Silent {
			logger.Warn().Float64("rms", stats.RMS).Msg("Inbound audio looks silent")
		}

		if err := requests.Push(inbound{req: req}); err != nil {
			return
		}
	}
}

// runRequests executes queued runs sequentially and reports queued input
// errors between them
func (h *Handler) runRequests(ctx context.Context, requests *pipeline.Queue[inbound], emitter pipeline.Emitter) {
	logger := zerolog.Ctx(ctx)
	for {
		item, ok, err := requests.Next(ctx)
		if err != nil || !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if item.err != nil {
			_ = emitter.Emit(ctx, pipeline.ErrorEvent(apperr.UserMessage(item.err)))
			continue
		}
		req := item.req

		start := time.Now()
		res, err := h.runner.Run(ctx, req, emitter)
		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		if res != nil {
			event = event.Str("run_id", res.RunID).
				Str("state", res.State.String()).
				Int("transcript_length", len(res.Transcript)).
				Int("response_length", len(res.Response)).
				Int("tts_chunks", res.Synthesis.Chunks)
		}
		event.Dur("elapsed", time.Since(start)).Msg("Pipeline run finished")
	}
}
