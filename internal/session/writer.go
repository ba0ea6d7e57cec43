package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/besmart/voice-agent/internal/pipeline"
)

// ErrWriterClosed is returned by Emit once the session stopped writing
var ErrWriterClosed = errors.New("session writer closed")

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is either a serialized event or a flush marker
type outboundFrame struct {
	payload []byte
	flushed chan struct{}
}

// outboundWriter is the only goroutine writing data frames to the socket.
// Events from the runner and the synthesis worker are serialized through an
// unbounded queue, so Emit never blocks on the network.
type outboundWriter struct {
	ws           wsWriter
	frames       *pipeline.Queue[outboundFrame]
	writeTimeout time.Duration
	pingInterval time.Duration

	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newOutboundWriter(ws wsWriter, writeTimeout, pingInterval time.Duration) *outboundWriter {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &outboundWriter{
		ws:           ws,
		frames:       pipeline.NewQueue[outboundFrame](),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

// Emit queues ev for delivery
func (w *outboundWriter) Emit(ctx context.Context, ev pipeline.Event) error {
	if err := w.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("error marshalling %s event: %w", ev.Type, err)
	}
	if err := w.frames.Push(outboundFrame{payload: data}); err != nil {
		return ErrWriterClosed
	}
	return nil
}

// Flush waits until every frame queued before it has been written
func (w *outboundWriter) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := w.frames.Push(outboundFrame{flushed: marker}); err != nil {
		return ErrWriterClosed
	}
	select {
	case <-marker:
		return w.Err()
	case <-w.done:
		if err := w.Err(); err != nil {
			return err
		}
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames; Run drains what is queued and returns
func (w *outboundWriter) Close() {
	w.frames.Close()
}

// Done is closed when Run returns
func (w *outboundWriter) Done() <-chan struct{} {
	return w.done
}

func (w *outboundWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *outboundWriter) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

// Run writes queued frames until the queue is closed and drained, a write
// fails or ctx is done.
func (w *outboundWriter) Run(ctx context.Context) error {
	defer close(w.done)

	if w.pingInterval > 0 {
		pingCtx, stop := context.WithCancel(ctx)
		defer stop()
		go w.keepalive(pingCtx)
	}

	for {
		frame, ok, err := w.frames.Next(ctx)
		if err != nil {
			w.setErr(ErrWriterClosed)
			return nil
		}
		if !ok {
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.writeTimeout))
			w.setErr(ErrWriterClosed)
			return nil
		}
		if frame.flushed != nil {
			close(frame.flushed)
			continue
		}
		if err := w.writeFrame(frame); err != nil {
			w.setErr(err)
			w.frames.Close()
			return err
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}

// keepalive pings the peer. WriteControl may run concurrently with WriteMessage.
func (w *outboundWriter) keepalive(ctx context.Context) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(w.writeTimeout)); err != nil {
				return
			}
		}
	}
}
