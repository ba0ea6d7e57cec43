package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
	"github.com/besmart/voice-agent/internal/resilience"
)

const scopeName = "github.com/besmart/voice-agent/internal/agent"

var tracer = otel.Tracer(scopeName)

// Config holds the dialogue-agent client settings
type Config struct {
	URL                string
	Timeout            time.Duration // time to response headers
	MaxIdleConns       int
	MaxConns           int
	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// Request is the body posted to the webhook
type Request struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Fragment is one line of the agent's streamed response
type Fragment struct {
	NodeName string // producer that emitted the line
	Type     string
	Content  string
}

// FragmentHandler receives fragments in order. Returning an error stops the stream.
type FragmentHandler func(Fragment) error

type wireFragment struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Metadata struct {
		NodeName string `json:"nodeName"`
	} `json:"metadata"`
}

// Client streams replies from the dialogue-agent webhook. It is safe for
// concurrent use and meant to be shared by all sessions.
type Client struct {
	url     string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient builds a client with its own pooled transport
func NewClient(cfg Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	transport.MaxConnsPerHost = cfg.MaxConns
	transport.ForceAttemptHTTP2 = true
	transport.ResponseHeaderTimeout = cfg.Timeout

	breaker := resilience.NewCircuitBreaker("agent", cfg.BreakerMaxFailures, cfg.BreakerReset)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to), to.String())
	})

	return &Client{
		url: cfg.URL,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(operationName string, r *http.Request) string {
					return operationName + " " + r.URL.Path
				}),
			),
		},
		breaker: breaker,
	}
}

// Healthy reports false while the circuit breaker is open
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	if c.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// Stream posts req and hands every JSON line of the chunked response to
// handler. Lines that are not JSON are logged and skipped. The request is not
// retried since the webhook may have side effects.
func (c *Client) Stream(ctx context.Context, req Request, handler FragmentHandler) (err error) {
	ctx, span := tracer.Start(ctx, "agent stream")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("request.session_id", req.SessionID))

	logger := zerolog.Ctx(ctx)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("error marshalling agent request: %w", err)
	}

	var resp *http.Response
	err = c.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		resp, err = c.http.Do(httpReq)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
			return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		return apperr.Transport("agent request", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	logger.Debug().Int("status", resp.StatusCode).Msg("Agent stream opened")

	lines, skipped := 0, 0
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			frag, ok := parseLine(line)
			switch {
			case ok:
				lines++
				if lines == 1 {
					span.AddEvent("received first fragment")
				}
				if err := handler(frag); err != nil {
					return err
				}
			case len(bytes.TrimSpace(line)) > 0:
				skipped++
				logger.Warn().Str("line", truncate(string(line), 200)).Msg("Skipping non-JSON agent line")
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return apperr.Transport("agent read", readErr)
		}
	}

	span.SetAttributes(attribute.Int("response.fragments", lines), attribute.Int("response.skipped", skipped))
	return nil
}

// parseLine decodes one NDJSON line. Blank and non-JSON lines yield ok=false.
func parseLine(line []byte) (Fragment, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Fragment{}, false
	}

	var w wireFragment
	if err := json.Unmarshal(line, &w); err != nil {
		return Fragment{}, false
	}

	return Fragment{
		NodeName: w.Metadata.NodeName,
		Type:     w.Type,
		Content:  contentString(w.Content),
	}, true
}

// contentString returns string content unquoted and anything else as raw JSON
func contentString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// FinalOutput extracts the "output" field of a final-producer fragment.
// Strings are returned unquoted, other JSON values as raw JSON. ok is false
// when content is not a JSON object or has no non-null output.
func FinalOutput(content string) (output string, ok bool) {
	var final struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal([]byte(content), &final); err != nil {
		return "", false
	}
	if len(final.Output) == 0 || string(final.Output) == "null" {
		return "", false
	}
	return contentString(final.Output), true
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
