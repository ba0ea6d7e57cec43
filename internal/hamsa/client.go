package hamsa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/observability"
	"github.com/besmart/voice-agent/internal/resilience"
)

const scopeName = "github.com/besmart/voice-agent/internal/hamsa"

var tracer = otel.Tracer(scopeName)

// Config holds the Hamsa realtime API settings
type Config struct {
	WSURL        string
	RESTURL      string
	APIKey       string
	Language     string
	EOSThreshold float64
	Speaker      string
	Dialect      string
	SampleRate   int

	ConnectAttempts  int
	ConnectBackoff   time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration

	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// FrameHandler is called for every frame after the request was sent.
// Returning done=true ends the exchange successfully.
type FrameHandler func(Frame) (done bool, err error)

// Client talks to the Hamsa realtime endpoint. Each Exchange opens its own
// stream; the client itself is shared by all sessions.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Hamsa client
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	breaker := resilience.NewCircuitBreaker("hamsa", cfg.BreakerMaxFailures, cfg.BreakerReset)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to), to.String())
	})

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
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

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return "", fmt.Errorf("invalid Hamsa URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange opens a stream, sends req and feeds every following frame to
// handler until it reports done. Only connection establishment is retried.
func (c *Client) Exchange(ctx context.Context, req any, handler FrameHandler) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock reads when the caller goes away
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return apperr.Transport("hamsa write", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		return c.streamError(ctx, "hamsa write", err)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return apperr.Transport("hamsa read", err)
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return c.streamError(ctx, "hamsa read", err)
		}

		done, err := handler(Frame{Binary: msgType == websocket.BinaryMessage, Data: data})
		if err != nil {
			return err
		}
		if done {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *Client) streamError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperr.Transport(op, err)
}

// connect dials and consumes the greeting frame, retrying with a fixed back-off
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Ctx(ctx)

	var conn *websocket.Conn
	err = c.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
			ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
				}
				return fmt.Errorf("dial: %w", err)
			}

			_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
			_, greeting, err := ws.ReadMessage()
			if err != nil {
				ws.Close()
				return fmt.Errorf("greeting: %w", err)
			}

			logger.Debug().Int("attempt", attempt).Str("greeting", string(greeting)).Msg("Connected to Hamsa")
			conn = ws
			return nil
		}, resilience.FixedBackoff(c.cfg.ConnectAttempts, c.cfg.ConnectBackoff), resilience.IsTransient)
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, ctx.Err()
		}
		return nil, apperr.Transport("hamsa connect", err)
	}
	return conn, nil
}
