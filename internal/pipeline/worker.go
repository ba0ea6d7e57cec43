package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/observability"
)

// WorkerStats summarizes one run's synthesis
type WorkerStats struct {
	Units  int
	Failed int
	Chunks int
	Bytes  int
}

// emitError marks a failure to deliver an event, which ends the run rather than the unit
type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// worker turns queued units into tts_chunk events, one synthesis call at a time
type worker struct {
	synth      Synthesizer
	emit       func(context.Context, Event) error
	sampleRate int
	metrics    *observability.RunMetrics
}

// run consumes q until it is closed and drained. A unit whose synthesis fails
// is logged and skipped; only delivery failures and cancellation end it early.
func (w *worker) run(ctx context.Context, q *Queue[Unit]) (WorkerStats, error) {
	logger := zerolog.Ctx(ctx)
	var stats WorkerStats

	for {
		unit, ok, err := q.Next(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			logger.Debug().
				Int("units", stats.Units).
				Int("failed", stats.Failed).
				Int("chunks", stats.Chunks).
				Int("bytes", stats.Bytes).
				Msg("Synthesis drained")
			return stats, nil
		}

		stats.Units++
		if stats.Units == 1 {
			if err := w.emit(ctx, TTSStartEvent(w.sampleRate)); err != nil {
				return stats, err
			}
		}

		if err := w.synthesize(ctx, stats.Units, unit, &stats); err != nil {
			var ee *emitError
			if errors.As(err, &ee) || ctx.Err() != nil {
				return stats, err
			}
			stats.Failed++
			observability.RecordError("synthesis", observability.ComponentTTS)
			logger.Warn().Err(err).Int("unit", stats.Units).Str("text", unit.Text).Msg("Synthesis failed, skipping unit")
		}
	}
}

func (w *worker) synthesize(ctx context.Context, index int, unit Unit, stats *WorkerStats) (err error) {
	ctx, span := tracer.Start(ctx, "synthesize unit")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.Int("unit.index", index), attribute.Int("unit.length", len(unit.Text)))

	zerolog.Ctx(ctx).Debug().Int("unit", index).Str("text", unit.Text).Msg("Synthesizing unit")

	chunks := 0
	w.metrics.RecordStageStart(observability.ComponentTTS)
	err = w.synth.Synthesize(ctx, unit.Text, func(chunk []byte) error {
		if err := w.emit(ctx, TTSChunkEvent(chunk)); err != nil {
			return &emitError{err: err}
		}
		chunks++
		stats.Chunks++
		stats.Bytes += len(chunk)
		w.metrics.RecordAudioChunk(len(chunk))
		return nil
	})
	w.metrics.RecordStageEnd(observability.ComponentTTS, err == nil)
	span.SetAttributes(attribute.Int("response.chunks", chunks))

	return err
}
