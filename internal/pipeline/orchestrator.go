package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/agent"
	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
)

const scopeName = "github.com/besmart/voice-agent/internal/pipeline"

var tracer = otel.Tracer(scopeName)

// Recognizer turns base64 audio into a transcript
type Recognizer interface {
	Transcribe(ctx context.Context, audioBase64 string) (string, error)
}

// Synthesizer streams audio for text to onChunk, in order
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, onChunk func([]byte) error) error
}

// Agent streams the dialogue agent's reply
type Agent interface {
	Stream(ctx context.Context, req agent.Request, handler agent.FragmentHandler) error
}

// Emitter delivers events to the caller. It must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Flusher is implemented by emitters that can wait until everything emitted
// so far has reached the transport.
type Flusher interface {
	Flush(ctx context.Context) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Config tunes one orchestrator
type Config struct {
	SampleRate       int
	TokenBatchSize   int
	SegmentMinChars  int
	SegmentMaxChars  int
	FallbackMinChars int
	AgentProducer    string
	FinalProducer    string
	DoneGrace        time.Duration
}

// DefaultConfig returns the production pipeline settings
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		TokenBatchSize:   8,
		SegmentMinChars:  10,
		SegmentMaxChars:  80,
		FallbackMinChars: 20,
		AgentProducer:    "Conversation Agent",
		FinalProducer:    "Respond to Webhook",
		DoneGrace:        500 * time.Millisecond,
	}
}

// Request is one inbound audio payload
type Request struct {
	SessionID   string
	AudioBase64 string
	AudioBytes  int // decoded length, for metrics
}

// Result describes a finished run
type Result struct {
	RunID      string
	State      State
	Transcript string
	Response   string
	Synthesis  WorkerStats
	Streamed   bool // at least one unit came from the streaming segmenter
}

// Orchestrator runs the recognize → agent → synthesize pipeline. One
// orchestrator serves every session; per-run state lives in Run.
type Orchestrator struct {
	recognizer  Recognizer
	synthesizer Synthesizer
	agent       Agent
	cfg         Config
}

func New(recognizer Recognizer, synthesizer Synthesizer, agent Agent, cfg Config) *Orchestrator {
	return &Orchestrator{
		recognizer:  recognizer,
		synthesizer: synthesizer,
		agent:       agent,
		cfg:         cfg,
	}
}

// Run executes one pipeline run and emits its events. Exactly one terminal
// event (done or error) is emitted unless the emitter itself fails. The
// returned error is the run-fatal cause, if any.
func (o *Orchestrator) Run(ctx context.Context, req Request, emitter Emitter) (*Result, error) {
	r := &run{
		o:       o,
		req:     req,
		emitter: emitter,
		metrics: observability.NewRunMetrics(),
		result:  &Result{RunID: uuid.New().String()},
	}

	logger := zerolog.Ctx(ctx).With().Str("run_id", r.result.RunID).Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := tracer.Start(ctx, "pipeline run")
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("run.id", r.result.RunID),
		attribute.Int("request.audio_bytes", req.AudioBytes),
	)
	r.metrics.RecordAudioIn(req.AudioBytes)

	err := r.execute(ctx)
	if err != nil {
		r.fail(ctx, err)
	}

	r.result.State = r.sm.current
	r.metrics.RecordRunEnd(err == nil)
	span.SetAttributes(attribute.String("run.state", r.sm.current.String()))
	observability.EndSpan(span, err)

	return r.result, err
}

// run carries the state of one pipeline run
type run struct {
	o       *Orchestrator
	req     Request
	emitter Emitter
	metrics *observability.RunMetrics
	result  *Result
	sm      stateMachine

	mu       sync.Mutex
	terminal bool

	response    strings.Builder
	tokens      *TokenBatcher
	segmenter   *Segmenter
	queue       *Queue[Unit]
	unitsPushed bool
}

// emit forwards ev unless a terminal event has already gone out
func (r *run) emit(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return nil
	}
	if ev.Terminal() {
		r.terminal = true
	}
	return r.emitter.Emit(ctx, ev)
}

func (r *run) transition(ctx context.Context, to State) error {
	from := r.sm.current
	if err := r.sm.transition(to); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("from", from.String()).Str("to", to.String()).Msg("Pipeline state")
	return nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.transition(ctx, StateRecognizing); err != nil {
		return err
	}
	if err := r.emit(ctx, StatusEvent(MsgRecognizing)); err != nil {
		return err
	}

	transcript, err := r.recognize(ctx)
	if err != nil {
		return err
	}
	r.result.Transcript = transcript

	if err := r.emit(ctx, TranscriptionEvent(transcript)); err != nil {
		return err
	}
	if err := r.emit(ctx, StatusEvent(MsgThinking)); err != nil {
		return err
	}
	if err := r.transition(ctx, StateAwaitingAgent); err != nil {
		return err
	}

	if err := r.streamAgent(ctx); err != nil {
		return err
	}

	response := r.response.String()
	r.result.Response = response
	if strings.TrimSpace(response) == "" {
		return apperr.EmptyResult(MsgEmptyResponse)
	}

	if err := r.emit(ctx, AgentResponseEvent(response)); err != nil {
		return err
	}
	if err := r.drain(ctx); err != nil {
		return err
	}
	if err := r.transition(ctx, StateDone); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Int("units", r.result.Synthesis.Units).
		Int("failed_units", r.result.Synthesis.Failed).
		Int("chunks", r.result.Synthesis.Chunks).
		Bool("streamed", r.result.Streamed).
		Msg("Pipeline run done")

	return r.emit(ctx, DoneEvent())
}

func (r *run) recognize(ctx context.Context) (transcript string, err error) {
	ctx, span := tracer.Start(ctx, "recognize")
	defer func() { observability.EndSpan(span, err) }()

	r.metrics.RecordStageStart(observability.ComponentSTT)
	transcript, err = r.o.recognizer.Transcribe(ctx, r.req.AudioBase64)
	r.metrics.RecordStageEnd(observability.ComponentSTT, err == nil)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.Int("response.transcript_length", len(transcript)))
	zerolog.Ctx(ctx).Info().Str("transcript", transcript).Msg("Recognized speech")

	if strings.TrimSpace(transcript) == "" {
		return "", apperr.EmptyResult(MsgEmptyTranscript)
	}
	return transcript, nil
}

// streamAgent runs the agent call and the synthesis worker side by side and
// returns once both are finished.
func (r *run) streamAgent(ctx context.Context) error {
	if err := r.transition(ctx, StateStreamingAgent); err != nil {
		return err
	}

	cfg := r.o.cfg
	r.tokens = NewTokenBatcher(cfg.TokenBatchSize)
	r.segmenter = NewSegmenter(cfg.SegmentMinChars, cfg.SegmentMaxChars)
	r.queue = NewQueue[Unit]()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	type workerResult struct {
		stats WorkerStats
		err   error
	}
	done := make(chan workerResult, 1)
	w := &worker{
		synth:      r.o.synthesizer,
		emit:       r.emit,
		sampleRate: cfg.SampleRate,
		metrics:    r.metrics,
	}
	go func() {
		stats, err := w.run(workerCtx, r.queue)
		done <- workerResult{stats: stats, err: err}
	}()

	r.metrics.RecordStageStart(observability.ComponentAgent)
	err := r.o.agent.Stream(ctx, agent.Request{Text: r.result.Transcript, SessionID: r.req.SessionID}, func(f agent.Fragment) error {
		return r.onFragment(ctx, f)
	})
	r.metrics.RecordStageEnd(observability.ComponentAgent, err == nil)

	if err == nil {
		err = r.finishStream(ctx)
	}
	if err != nil {
		cancelWorker()
		r.queue.Close()
		res := <-done
		r.result.Synthesis = res.stats
		return err
	}

	if err := r.transition(ctx, StateCompleting); err != nil {
		cancelWorker()
		<-done
		return err
	}

	res := <-done
	r.result.Synthesis = res.stats
	return res.err
}

func (r *run) onFragment(ctx context.Context, f agent.Fragment) error {
	cfg := r.o.cfg
	if f.Type != "item" || f.Content == "" {
		return nil
	}

	switch f.NodeName {
	case cfg.AgentProducer:
		r.metrics.RecordFirstToken()
		r.response.WriteString(f.Content)

		if batch, ok := r.tokens.Add(f.Content); ok {
			if err := r.emit(ctx, TokenEvent(batch)); err != nil {
				return err
			}
		}
		if unit, ok := r.segmenter.Push(f.Content); ok {
			zerolog.Ctx(ctx).Debug().Str("text", unit.Text).Msg("Unit ready")
			return r.push(unit)
		}

	case cfg.FinalProducer:
		output, ok := agent.FinalOutput(f.Content)
		if !ok {
			zerolog.Ctx(ctx).Debug().Str("content", f.Content).Msg("Final output without usable output field")
			return nil
		}
		r.response.Reset()
		r.response.WriteString(output)
	}
	return nil
}

func (r *run) push(unit Unit) error {
	r.unitsPushed = true
	r.result.Streamed = true
	return r.queue.Push(unit)
}

// finishStream flushes what the stream left behind and closes the queue
func (r *run) finishStream(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if batch, ok := r.tokens.Flush(); ok {
		if err := r.emit(ctx, TokenEvent(batch)); err != nil {
			return err
		}
	}

	if unit, ok := r.segmenter.Flush(); ok {
		if err := r.push(unit); err != nil {
			return err
		}
	}

	if response := r.response.String(); !r.unitsPushed && strings.TrimSpace(response) != "" {
		parts := SplitSentences(response, r.o.cfg.FallbackMinChars)
		logger.Warn().Int("units", len(parts)).Msg("No units streamed, splitting final response")
		for _, p := range parts {
			if err := r.queue.Push(Unit{Text: p, Raw: p}); err != nil {
				return err
			}
		}
	}

	r.queue.Close()
	return nil
}

// drain waits for already-emitted events to reach the transport
func (r *run) drain(ctx context.Context) error {
	if f, ok := r.emitter.(Flusher); ok {
		return f.Flush(ctx)
	}

	timer := time.NewTimer(r.o.cfg.DoneGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail moves the run to failed and emits its single error event
func (r *run) fail(ctx context.Context, err error) {
	if !r.sm.current.Terminal() {
		_ = r.transition(ctx, StateFailed)
	}

	kind := apperr.KindOf(err)
	observability.RecordError(kind.String(), "pipeline")
	zerolog.Ctx(ctx).Error().Err(err).Str("kind", kind.String()).Msg("Pipeline run failed")

	if emitErr := r.emit(context.WithoutCancel(ctx), ErrorEvent(apperr.UserMessage(err))); emitErr != nil {
		zerolog.Ctx(ctx).Debug().Err(emitErr).Msg("Could not deliver error event")
	}
}
